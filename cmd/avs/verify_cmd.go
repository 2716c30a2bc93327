package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Mindburn-Labs/avs/pkg/config"
	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

type verifyCheck struct {
	Kind   string `json:"kind"`
	Source string `json:"source"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
	Code   string `json:"code,omitempty"`
}

type verifyReport struct {
	Verified bool          `json:"verified"`
	Checks   []verifyCheck `json:"checks"`
}

func (r *verifyReport) add(kind, source string, err error) {
	c := verifyCheck{Kind: kind, Source: source, Pass: err == nil}
	if err != nil {
		c.Reason = err.Error()
		c.Code = string(contracts.Kind(err))
	}
	r.Checks = append(r.Checks, c)
}

// runVerifyCmd implements `avs verify`: offline verification of capability
// tokens, delegation envelopes and provenance records against the
// configured signing secret.
//
// Exit codes:
//
//	0 = everything verified
//	1 = at least one check failed
//	2 = usage or runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()

	var (
		tokenFile    string
		envelopeFile string
		recordFile   string
		jsonOutput   bool
	)
	cmd := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	cmd.SetOutput(stderr)
	cmd.StringVar(&tokenFile, "token", "", "File holding a compact capability token")
	cmd.StringVar(&envelopeFile, "envelope", "", "File holding a delegation envelope (JSON)")
	cmd.StringVar(&recordFile, "record", "", "File holding provenance records (JSON object, array or JSON lines)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tokenFile == "" && envelopeFile == "" && recordFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: one of --token, --envelope or --record is required")
		return 2
	}

	logger := newLogger(stderr, cfg.Level(), false)
	svc, err := newServices(context.Background(), cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var report verifyReport
	if tokenFile != "" {
		raw, err := os.ReadFile(tokenFile)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		_, err = svc.tokens.Verify(strings.TrimSpace(string(raw)))
		report.add("token", tokenFile, err)
	}
	if envelopeFile != "" {
		raw, err := os.ReadFile(envelopeFile)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		var de contracts.DelegationEnvelope
		if err := json.Unmarshal(raw, &de); err != nil {
			report.add("envelope", envelopeFile, fmt.Errorf("%w: %v", contracts.ErrMalformed, err))
		} else if !svc.delegations.Verify(de) {
			report.add("envelope", envelopeFile, contracts.ErrInvalidSignature)
		} else {
			report.add("envelope", envelopeFile, nil)
		}
	}
	if recordFile != "" {
		raw, err := os.ReadFile(recordFile)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		records, err := decodeRecords(raw)
		if err != nil {
			report.add("record", recordFile, err)
		}
		for i, rec := range records {
			report.add("record", fmt.Sprintf("%s#%d", recordFile, i), svc.provenance.Verify(rec))
		}
	}

	report.Verified = true
	for _, c := range report.Checks {
		report.Verified = report.Verified && c.Pass
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		for _, c := range report.Checks {
			if c.Pass {
				_, _ = fmt.Fprintf(stdout, "PASS %-8s %s\n", c.Kind, c.Source)
			} else {
				_, _ = fmt.Fprintf(stdout, "FAIL %-8s %s: %s\n", c.Kind, c.Source, c.Reason)
			}
		}
	}

	if !report.Verified {
		return 1
	}
	return 0
}

// decodeRecords accepts a single record, an array of records, or one record
// per line.
func decodeRecords(raw []byte) ([]contracts.ProvenanceRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no records", contracts.ErrMalformed)
	}
	if raw[0] == '[' {
		var out []contracts.ProvenanceRecord
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", contracts.ErrMalformed, err)
		}
		return out, nil
	}
	var out []contracts.ProvenanceRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		var rec contracts.ProvenanceRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%w: record %d: %v", contracts.ErrMalformed, len(out), err)
		}
		out = append(out, rec)
	}
}
