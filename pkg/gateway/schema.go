package gateway

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const recordSchemaURL = "https://avs.schemas.local/provenance_record.schema.json"

//go:embed schema/provenance_record.schema.json
var recordSchemaJSON []byte

func compileRecordSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(recordSchemaURL, bytes.NewReader(recordSchemaJSON)); err != nil {
		return nil, fmt.Errorf("record schema load failed: %w", err)
	}
	schema, err := c.Compile(recordSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("record schema compile failed: %w", err)
	}
	return schema, nil
}

// validateRecordJSON checks raw against the record schema.
func validateRecordJSON(schema *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return malformed("invalid JSON body: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return malformed("schema violation: %v", err)
	}
	return nil
}
