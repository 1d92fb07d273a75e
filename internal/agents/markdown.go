package agents

import (
	"strings"

	"smmswarm/internal/structured"
)

// mdWriter accumulates markdown lines, skipping empty sections.
type mdWriter struct {
	lines []string
}

func (w *mdWriter) line(s string) { w.lines = append(w.lines, s) }

func (w *mdWriter) blank() { w.lines = append(w.lines, "") }

func (w *mdWriter) field(prefix, value string) {
	if value != "" {
		w.line(prefix + value)
	}
}

func (w *mdWriter) list(title string, items []string, limit int) {
	items = structured.Truncate(items, limit)
	if len(items) == 0 {
		return
	}
	w.line(title)
	for _, item := range items {
		w.line("- " + item)
	}
	if strings.HasPrefix(title, "##") {
		w.blank()
	}
}

func (w *mdWriter) joined(prefix string, items []string, limit int) {
	items = structured.Truncate(items, limit)
	if len(items) > 0 {
		w.line(prefix + strings.Join(items, "; "))
	}
}

func (w *mdWriter) String() string {
	return strings.TrimSpace(strings.Join(w.lines, "\n"))
}

// objects returns the object items of m[key].
func objects(m map[string]any, key string) []map[string]any {
	items := structured.Slice(m, key)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// stringList converts an arbitrary JSON value into its scalar strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case []any:
		return structured.Strings(map[string]any{"v": t}, "v")
	case nil:
		return nil
	default:
		if s := structured.AsString(t); s != "" {
			return []string{s}
		}
		return nil
	}
}
