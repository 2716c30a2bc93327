package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/avs/pkg/runner"
)

// Markdown renders rep as GitHub-flavored Markdown.
func Markdown(rep *Report) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rep.Title)
	fmt.Fprintf(&b, "Run `%s` generated %s.\n\n", rep.RunID, rep.GeneratedAt.Format(time.RFC3339))

	s := rep.Summary
	b.WriteString("## Summary\n\n")
	b.WriteString("| Total | Passed | Failed | Cancelled | Ingest failures |\n")
	b.WriteString("|---:|---:|---:|---:|---:|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d |\n\n", s.Total, s.Passed, s.Failed, s.Cancelled, s.IngestFailures)

	if len(rep.Invariants) > 0 {
		b.WriteString("## Invariants\n\n")
		b.WriteString("| Invariant | Verdict | Failures | Cheapest fix |\n")
		b.WriteString("|---|---|---:|---|\n")
		for _, inv := range rep.Invariants {
			verdict := "PASS"
			if !inv.Pass {
				verdict = "FAIL"
			}
			fmt.Fprintf(&b, "| %s | %s | %d/%d | %s |\n", cell(inv.Name), verdict, inv.Failures, inv.Evaluated, cell(inv.Suggestion))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Scenarios\n\n")
	b.WriteString("| Scenario | Status | Cost (USD) | Reason |\n")
	b.WriteString("|---|---|---:|---|\n")
	for _, sc := range rep.Scenarios {
		id := sc.ID
		if sc.VariantOf != "" {
			id += " (variant of " + sc.VariantOf + ")"
		}
		fmt.Fprintf(&b, "| %s | %s | %.4f | %s |\n", cell(id), sc.Status, sc.CostUSD, cell(sc.Reason))
	}
	b.WriteString("\n")

	for _, sc := range rep.Scenarios {
		if sc.Status == runner.ScenarioPassed && len(sc.Notes) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n", inline(sc.ID))
		if sc.Reason != "" {
			fmt.Fprintf(&b, "**%s**: %s\n\n", sc.Status, inline(sc.Reason))
		}
		if sc.TraceID != "" {
			fmt.Fprintf(&b, "Trace `%s`", sc.TraceID)
			if sc.AuditLog != "" {
				fmt.Fprintf(&b, ", audit log `%s`", sc.AuditLog)
			}
			b.WriteString(".\n\n")
		}
		for _, f := range sc.Failures {
			fmt.Fprintf(&b, "- **%s**: %s\n", inline(f.Invariant), inline(f.Message))
			if f.Suggestion != "" {
				fmt.Fprintf(&b, "  - Cheapest fix: %s\n", inline(f.Suggestion))
			}
		}
		if len(sc.Failures) > 0 {
			b.WriteString("\n")
		}
		for _, n := range sc.Notes {
			fmt.Fprintf(&b, "> %s\n", inline(n))
		}
		if len(sc.Notes) > 0 {
			b.WriteString("\n")
		}
		for _, f := range sc.Failures {
			if len(f.OffendingRecords) == 0 {
				continue
			}
			fmt.Fprintf(&b, "Offending records for `%s`:\n\n", f.Invariant)
			codeBlock(&b, "json", f.OffendingRecords)
		}
	}
	return []byte(b.String())
}

// cell makes s safe inside a table cell.
func cell(s string) string {
	s = strings.ReplaceAll(inline(s), "|", `\|`)
	if s == "" {
		return "-"
	}
	return s
}

func inline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// codeBlock writes v as indented JSON inside a fence longer than any
// backtick run in the content.
func codeBlock(b *strings.Builder, lang string, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)

	longest, run := 0, 0
	for _, r := range buf.String() {
		if r == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	fence := strings.Repeat("`", max(3, longest+1))
	fmt.Fprintf(b, "%s%s\n%s%s\n\n", fence, lang, buf.String(), fence)
}
