package scopelog

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// filterEnv is the environment a filter expression evaluates against.
// Identifiers: level (int), name (string), message, file, task (strings),
// line (int), attrs (map of merged context and explicit pairs).
func filterEnv(r Record) map[string]any {
	attrs := make(map[string]any)
	r.AllAttrs(func(a Attr) bool {
		attrs[a.Key] = a.Value
		return true
	})
	return map[string]any{
		"level":   int(r.Level),
		"name":    r.Level.String(),
		"message": r.Text(),
		"file":    r.File,
		"line":    r.Line,
		"task":    r.TaskID,
		"attrs":   attrs,
	}
}

// CompileFilter compiles a boolean expression into a RecordFilter, e.g.
//
//	level >= 20 && attrs.region == "eu"
//
// Malformed expressions fail here, at registration time. A filter that
// errors at evaluation delivers the record rather than dropping it.
func CompileFilter(src string) (RecordFilter, error) {
	program, err := expr.Compile(src, expr.Env(filterEnv(Record{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("scopelog: bad filter expression %q: %w", src, err)
	}
	return func(r Record) bool {
		out, err := expr.Run(program, filterEnv(r))
		if err != nil {
			return true
		}
		keep, ok := out.(bool)
		return !ok || keep
	}, nil
}
