package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
	"github.com/Mindburn-Labs/avs/pkg/invariants"
	"github.com/Mindburn-Labs/avs/pkg/runner"
)

// LoadContracts reads every *.yml and *.yaml file in dir. A file holds one
// contract or a YAML stream of several.
func LoadContracts(dir string) (contracts.ContractSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load contracts: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	set := make(contracts.ContractSet)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load contracts: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		for {
			var c contracts.ActionContract
			err := dec.Decode(&c)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("%w: parse %s: %v", contracts.ErrMalformed, path, err)
			}
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			if _, dup := set[c.Name]; dup {
				return nil, fmt.Errorf("%w: %s: duplicate contract %s", contracts.ErrMalformed, path, c.Name)
			}
			set[c.Name] = c
		}
	}
	return set, nil
}

// ParseInvariants accepts a document whose "invariants" key is either a
// list of definitions or a map from name to definition.
func ParseInvariants(data []byte) ([]invariants.Definition, error) {
	var doc struct {
		Invariants yaml.Node `yaml:"invariants"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse invariants: %v", contracts.ErrMalformed, err)
	}
	node := &doc.Invariants
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
		var defs []invariants.Definition
		if err := node.Decode(&defs); err != nil {
			return nil, fmt.Errorf("%w: parse invariants: %v", contracts.ErrMalformed, err)
		}
		return defs, nil
	case yaml.MappingNode:
		defs := make([]invariants.Definition, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var def invariants.Definition
			if v := node.Content[i+1]; v.Kind != yaml.ScalarNode || v.Tag != "!!null" {
				if err := v.Decode(&def); err != nil {
					return nil, fmt.Errorf("%w: invariant %s: %v", contracts.ErrMalformed, node.Content[i].Value, err)
				}
			}
			if def.Name == "" {
				def.Name = node.Content[i].Value
			}
			defs = append(defs, def)
		}
		return defs, nil
	default:
		return nil, fmt.Errorf("%w: invariants must be a list or a map", contracts.ErrMalformed)
	}
}

// LoadInvariants reads and builds the invariants in path. With no
// definitions the built-in defaults apply.
func LoadInvariants(path string, env invariants.Env) ([]invariants.Invariant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load invariants: %w", err)
	}
	defs, err := ParseInvariants(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(defs) == 0 {
		return invariants.Defaults(env), nil
	}
	invs, err := invariants.BuildAll(defs, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return invs, nil
}

// ParseScenarios accepts either a bare list or a document with a
// "scenarios" key. JSON is valid YAML and needs no separate path.
func ParseScenarios(data []byte) ([]runner.Scenario, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parse scenarios: %v", contracts.ErrMalformed, err)
	}
	if root.Kind == 0 {
		return nil, nil
	}
	var scenarios []runner.Scenario
	if len(root.Content) > 0 && root.Content[0].Kind == yaml.SequenceNode {
		if err := root.Content[0].Decode(&scenarios); err != nil {
			return nil, fmt.Errorf("%w: parse scenarios: %v", contracts.ErrMalformed, err)
		}
	} else {
		var doc struct {
			Scenarios []runner.Scenario `yaml:"scenarios"`
		}
		if err := root.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: parse scenarios: %v", contracts.ErrMalformed, err)
		}
		scenarios = doc.Scenarios
	}
	if err := runner.ValidateScenarios(scenarios); err != nil {
		return nil, err
	}
	return scenarios, nil
}

func LoadScenarios(path string) ([]runner.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenarios: %w", err)
	}
	scenarios, err := ParseScenarios(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}
