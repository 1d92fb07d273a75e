// Package structured extracts a single JSON value from model output that was
// asked to be JSON but may arrive fenced, decorated with prose, or typed with
// typographic quotes.
package structured

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"

	smmerrors "smmswarm/internal/errors"
	"smmswarm/internal/jsonx"
)

var (
	leadingFence  = regexp.MustCompile("(?i)^```(?:json)?")
	trailingFence = regexp.MustCompile("```$")
	quoteReplacer = strings.NewReplacer("“", `"`, "”", `"`, "’", "'", "‘", "'")
)

// MalformedError carries the first parse failure. It matches
// errors.Is(err, ErrMalformedResponse).
type MalformedError struct {
	Err     error
	Snippet string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %v (input: %q)", smmerrors.ErrMalformedResponse, e.Err, e.Snippet)
}

func (e *MalformedError) Unwrap() []error {
	return []error{smmerrors.ErrMalformedResponse, e.Err}
}

type shape int

const (
	shapeObject shape = iota
	shapeArray
)

func (s shape) delimiters() (byte, byte) {
	if s == shapeArray {
		return '[', ']'
	}
	return '{', '}'
}

// Normalize strips code fences and typographic quotes.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(leadingFence.ReplaceAllString(s, ""))
	s = strings.TrimSpace(trailingFence.ReplaceAllString(s, ""))
	return quoteReplacer.Replace(s)
}

// ParseObject returns the JSON object contained in raw.
func ParseObject(raw string) (map[string]any, error) {
	v, err := parse(raw, shapeObject)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// ParseArray returns the JSON array contained in raw.
func ParseArray(raw string) ([]any, error) {
	v, err := parse(raw, shapeArray)
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// DecodeObject extracts the object in raw and decodes it into out.
func DecodeObject(raw string, out any) error {
	obj, err := ParseObject(raw)
	if err != nil {
		return err
	}
	data, err := jsonx.Marshal(obj)
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(data, out)
}

func parse(raw string, want shape) (any, error) {
	s := Normalize(raw)

	v, firstErr := unmarshalShape(s, want)
	if firstErr == nil {
		return v, nil
	}

	open, closing := want.delimiters()
	first := strings.IndexByte(s, open)
	last := strings.LastIndexByte(s, closing)
	if first == -1 || last == -1 || last <= first {
		return nil, malformed(firstErr, s)
	}
	slice := s[first : last+1]
	if v, err := unmarshalShape(slice, want); err == nil {
		return v, nil
	}

	// A reply cut off mid-value must not be completed by the repairer.
	if !balanced(slice) {
		return nil, malformed(firstErr, s)
	}

	// Trailing commas, single quotes, unquoted keys inside the slice.
	repaired, err := jsonrepair.JSONRepair(slice)
	if err == nil {
		if v, err := unmarshalShape(repaired, want); err == nil {
			return v, nil
		}
	}
	return nil, malformed(firstErr, s)
}

func unmarshalShape(s string, want shape) (any, error) {
	var v any
	if err := jsonx.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch want {
	case shapeArray:
		if arr, ok := v.([]any); ok {
			return arr, nil
		}
		return nil, fmt.Errorf("expected array, got %T", v)
	default:
		if obj, ok := v.(map[string]any); ok {
			return obj, nil
		}
		return nil, fmt.Errorf("expected object, got %T", v)
	}
}

// balanced reports whether every bracket outside string literals is closed
// by its matching partner.
func balanced(s string) bool {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return false
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0 && !inString
}

const snippetLimit = 200

func malformed(err error, s string) error {
	return &MalformedError{Err: err, Snippet: snippet(s)}
}

// snippet cuts s to at most snippetLimit bytes on a rune boundary.
func snippet(s string) string {
	if len(s) <= snippetLimit {
		return s
	}
	n := snippetLimit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
