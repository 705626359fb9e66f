// Package template provides variable interpolation for prompt content.
// Templates reference caller-supplied variables using {{name}} syntax:
//   - {{model}} - a single variable
//   - {{user.name}} - a dot-separated path into a nested variables map
//
// Rendering is strict: a placeholder with no matching variable fails with
// errors.ErrRender rather than silently emitting an empty string, so a
// missing variable never reaches an agent as a hole in its instructions.
package template

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/promptlab/promptlab/errors"
)

// Template represents a parsed prompt template with placeholders for variables
type Template struct {
	raw      string
	segments []segment
}

// segment represents either a literal string or a placeholder
type segment struct {
	literal bool
	content string // for literal: the text; for placeholder: the variable path
}

// Placeholder patterns
var (
	// Match {{name}} or {{path.to.value}}
	placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)
)

// Parse creates a Template from a raw template string.
// An empty template is valid (some prompts are composed entirely at call
// time); malformed placeholder syntax is not.
func Parse(raw string) (*Template, error) {
	t := &Template{raw: raw}

	// Find all placeholder positions
	matches := placeholderPattern.FindAllStringSubmatchIndex(raw, -1)

	if len(matches) == 0 {
		// No placeholders - entire string is literal
		t.segments = []segment{{literal: true, content: raw}}
		return t, nil
	}

	var segments []segment
	lastEnd := 0

	for _, match := range matches {
		// match[0]:match[1] is the full match {{name}}
		// match[2]:match[3] is the captured group (name)
		start, end := match[0], match[1]
		path := raw[match[2]:match[3]]

		// Add literal segment before this placeholder
		if start > lastEnd {
			segments = append(segments, segment{
				literal: true,
				content: raw[lastEnd:start],
			})
		}

		segments = append(segments, segment{content: path})

		lastEnd = end
	}

	// Add trailing literal if any
	if lastEnd < len(raw) {
		segments = append(segments, segment{
			literal: true,
			content: raw[lastEnd:],
		})
	}

	t.segments = segments
	return t, nil
}

// Variables returns the distinct variable paths referenced by the template,
// in order of first appearance.
func (t *Template) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, seg := range t.segments {
		if seg.literal || seen[seg.content] {
			continue
		}
		seen[seg.content] = true
		out = append(out, seg.content)
	}
	return out
}

// Render interpolates the template with the supplied variables.
// Fails with errors.ErrRender if a referenced variable is absent.
func (t *Template) Render(variables map[string]interface{}) (string, error) {
	var result strings.Builder
	result.Grow(len(t.raw) * 2) // Pre-allocate with some slack

	for _, seg := range t.segments {
		if seg.literal {
			result.WriteString(seg.content)
			continue
		}

		value, err := lookup(variables, seg.content)
		if err != nil {
			return "", errors.Wrapf(errors.ErrRender, "{{%s}}: %s", seg.content, err.Error())
		}
		result.WriteString(value)
	}

	return result.String(), nil
}

// Render is the one-shot form: parse then render.
func Render(raw string, variables map[string]interface{}) (string, error) {
	t, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return t.Render(variables)
}

// Validate checks template syntax without rendering.
// Catches placeholders that open but never close, e.g. "{{model".
func Validate(raw string) error {
	stripped := placeholderPattern.ReplaceAllString(raw, "")
	if idx := strings.Index(stripped, "{{"); idx >= 0 {
		return errors.Wrapf(errors.ErrRender, "unclosed or malformed placeholder at offset %d", idx)
	}
	if _, err := Parse(raw); err != nil {
		return err
	}
	return nil
}

// lookup navigates a dot-separated path in the variables map
func lookup(variables map[string]interface{}, path string) (string, error) {
	if variables == nil {
		return "", errors.New("missing variable")
	}

	parts := strings.Split(path, ".")
	var current interface{} = variables

	for i, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return "", errors.Newf("cannot traverse into non-object at '%s'", strings.Join(parts[:i+1], "."))
		}
		val, ok := m[part]
		if !ok {
			return "", errors.New("missing variable")
		}
		current = val
	}

	return valueToString(current), nil
}

// valueToString converts any value to a string representation
func valueToString(v interface{}) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return toJSON(val)
	}
}

// toJSON marshals a value to its JSON string form, trimming quotes on scalars
func toJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.Trim(string(data), "\"")
}
