// Package toon implements TOON (Token-Oriented Object Notation) encoding.
package toon

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/phobologic/apidrift/internal/batch"
	"github.com/phobologic/apidrift/internal/model"
	"github.com/phobologic/apidrift/internal/ranking"
)

var (
	needsQuoting = regexp.MustCompile(`[,:"\\{}\[\]]`)
	looksNumeric = regexp.MustCompile(`^-?(?:0|[1-9]\d*)(?:\.\d+)?$`)
	keywords     = map[string]struct{}{
		"true":  {},
		"false": {},
		"null":  {},
	}
)

// ranksDescending is the order rank tables are printed in.
var ranksDescending = []model.Rank{model.High, model.Medium, model.Low, model.Compatible}

// Encode converts a Difference into TOON format.
func Encode(d *model.Difference) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("old: %s", encodeValue(d.Old.Release().String())))
	parts = append(parts, fmt.Sprintf("new: %s", encodeValue(d.New.Release().String())))

	level := "none"
	if l, ok := ranking.Level(d); ok {
		level = l.String()
	}
	parts = append(parts, fmt.Sprintf("level: %s", level))

	counts := ranking.Counts(d)
	var countRows [][]string
	for _, r := range ranksDescending {
		countRows = append(countRows, []string{r.String(), fmt.Sprintf("%d", counts[r])})
	}
	parts = append(parts, formatTabular("counts", []string{"rank", "count"}, countRows))

	var kindRows [][]string
	for _, kc := range ranking.KindCounts(d) {
		kindRows = append(kindRows, []string{kc.Kind, kc.Rank.String(), fmt.Sprintf("%d", kc.Count)})
	}
	parts = append(parts, formatTabular("kinds", []string{"kind", "rank", "count"}, kindRows))

	var entryRows [][]string
	for i := range d.Entries {
		e := &d.Entries[i]
		entryRows = append(entryRows, []string{
			e.Rank.String(),
			e.Kind,
			e.Old,
			e.New,
			e.Message,
		})
	}
	parts = append(parts, formatTabular("entries", []string{"rank", "kind", "old", "new", "message"}, entryRows))

	if len(d.Diagnostics) > 0 {
		var diagRows [][]string
		for _, diag := range d.Diagnostics {
			diagRows = append(diagRows, []string{diag.Rule, diag.Old, diag.New, diag.Message})
		}
		parts = append(parts, formatTabular("diagnostics", []string{"rule", "old", "new", "message"}, diagRows))
	}

	return strings.Join(parts, "\n")
}

// EncodeCollection converts a Collection into a TOON overview: the release,
// entry counts per kind and one row per entry.
func EncodeCollection(c *model.Collection) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("release: %s", encodeValue(c.Manifest.Release().String())))
	parts = append(parts, fmt.Sprintf("topLevel: %s", encodeValue(strings.Join(c.TopLevel(), " "))))

	stats := c.Stats()
	var kindRows [][]string
	for _, k := range model.Kinds {
		kindRows = append(kindRows, []string{string(k), fmt.Sprintf("%d", stats[k])})
	}
	parts = append(parts, formatTabular("kinds", []string{"kind", "count"}, kindRows))

	var entryRows [][]string
	for _, id := range c.IDs() {
		e, _ := c.Lookup(id)
		if e.Kind() == model.KindSpecial {
			continue
		}
		loc := e.Info().Location
		line := ""
		if loc.Line > 0 {
			line = fmt.Sprintf("%d", loc.Line)
		}
		entryRows = append(entryRows, []string{id, string(e.Kind()), loc.File, line, detail(e)})
	}
	parts = append(parts, formatTabular("entries", []string{"id", "kind", "file", "line", "detail"}, entryRows))

	return strings.Join(parts, "\n")
}

// EncodeSummary converts a batch summary into TOON: the run id, the success
// count and one row per job.
func EncodeSummary(s batch.Summary) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("run: %s", encodeValue(s.RunID)))
	parts = append(parts, fmt.Sprintf("success: %d", s.Success))
	parts = append(parts, fmt.Sprintf("total: %d", s.Total))

	var rows [][]string
	for _, r := range s.Results {
		status, level, changes := "failed", "", ""
		if r.OK {
			status = "ok"
		}
		if r.Difference != nil {
			level = "none"
			if l, ok := ranking.Level(r.Difference); ok {
				level = l.String()
			}
			changes = fmt.Sprintf("%d", len(r.Difference.Entries))
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", r.Index),
			r.Job.Name,
			status,
			level,
			changes,
			r.Message,
		})
	}
	parts = append(parts, formatTabular("jobs", []string{"index", "name", "status", "level", "changes", "message"}, rows))

	return strings.Join(parts, "\n")
}

// detail is the one-line summary shown for an entry.
func detail(e model.Entry) string {
	switch e := e.(type) {
	case *model.FunctionEntry:
		return Signature(e)
	case *model.ClassEntry:
		return strings.Join(e.Bases, " ")
	case *model.AttributeEntry:
		if e.Annotation != "" {
			return e.RawType + ": " + e.Annotation
		}
		return e.RawType
	case *model.ModuleEntry:
		return fmt.Sprintf("%d members", len(e.Members))
	}
	return ""
}

// Signature renders a function's parameter list the way it would be
// written: "(a, /, b=int('0'), *args, c, **kw) -> int".
func Signature(f *model.FunctionEntry) string {
	var params []string
	sawVarPositional := false
	for i, p := range f.Parameters {
		if p.Kind == model.KeywordOnly && !sawVarPositional {
			params = append(params, "*")
			sawVarPositional = true
		}
		params = append(params, parameter(p))
		switch p.Kind {
		case model.VarPositional:
			sawVarPositional = true
		case model.PositionalOnly:
			if i+1 == len(f.Parameters) || f.Parameters[i+1].Kind != model.PositionalOnly {
				params = append(params, "/")
			}
		}
	}
	sig := "(" + strings.Join(params, ", ") + ")"
	if f.ReturnAnnotation != "" {
		sig += " -> " + f.ReturnAnnotation
	}
	if f.Async {
		sig = "async " + sig
	}
	return sig
}

func parameter(p model.Parameter) string {
	var b strings.Builder
	switch p.Kind {
	case model.VarPositional:
		b.WriteString("*")
	case model.VarKeyword:
		b.WriteString("**")
	}
	b.WriteString(p.Name)
	if p.Annotation != "" {
		b.WriteString(": " + p.Annotation)
	}
	if def := p.DefaultText(); def != "" {
		if p.Annotation != "" {
			b.WriteString(" = " + def)
		} else {
			b.WriteString("=" + def)
		}
	}
	return b.String()
}

func formatTabular(name string, columns []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]{%s}:", name, len(rows), strings.Join(columns, ","))
	for _, row := range rows {
		encoded := make([]string, len(row))
		for i, cell := range row {
			encoded[i] = encodeValue(cell)
		}
		fmt.Fprintf(&b, "\n  %s", strings.Join(encoded, ","))
	}
	return b.String()
}

func encodeValue(value string) string {
	if value == "" {
		return `""`
	}

	if value != strings.TrimSpace(value) {
		return quote(value)
	}

	if strings.ContainsAny(value, "\n\r\t") {
		return quote(value)
	}

	if _, ok := keywords[strings.ToLower(value)]; ok {
		return quote(value)
	}

	if looksNumeric.MatchString(value) {
		return value
	}

	if needsQuoting.MatchString(value) {
		return quote(value)
	}

	if strings.HasPrefix(value, "-") {
		return quote(value)
	}

	return value
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}
