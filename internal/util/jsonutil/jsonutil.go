package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Unmarshal decodes agent output into v. It strips markdown code fences and
// surrounding prose, then falls back to unescaping double-encoded payloads.
func Unmarshal(data []byte, v any) error {
	if err := UnmarshalFlex(bytes.TrimSpace(data), v); err == nil {
		return nil
	}
	return UnmarshalFlex(ExtractObject(data), v)
}

// MarshalNoEscape encodes v without escaping <, > and & into < etc.
func MarshalNoEscape(v any) ([]byte, error) {
	return MarshalNoEscapeIndent(v, "", "")
}

// MarshalNoEscapeIndent encodes v with indentation and without HTML escaping.
func MarshalNoEscapeIndent(v any, prefix, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if prefix != "" || indent != "" {
		enc.SetIndent(prefix, indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ExtractObject returns the first top-level JSON object or array in raw.
// Models often wrap JSON in ```json fences or a sentence of preamble.
func ExtractObject(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return trimmed
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	start := bytes.IndexAny(trimmed, "{[")
	if start < 0 {
		return trimmed
	}
	open, closeCh := trimmed[start], byte('}')
	if open == '[' {
		closeCh = ']'
	}
	end := bytes.LastIndexByte(trimmed, closeCh)
	if end <= start {
		return trimmed
	}
	return trimmed[start : end+1]
}

// UnmarshalFlex tries a direct unmarshal first, then normalizes
// double-escaped or string-wrapped JSON and tries again.
func UnmarshalFlex(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err == nil {
		return nil
	}
	norm, err := normalize(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(norm, v)
}

func normalize(raw []byte) ([]byte, error) {
	var anyVal any
	if err := json.Unmarshal(raw, &anyVal); err != nil {
		// The whole payload may be a quoted JSON string.
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return nil, err
		}
		if err := json.Unmarshal(ExtractObject([]byte(s)), &anyVal); err != nil {
			return nil, errors.New("jsonutil: cannot parse JSON payload")
		}
	}
	if s, ok := anyVal.(string); ok {
		if err := json.Unmarshal(ExtractObject([]byte(s)), &anyVal); err != nil {
			return nil, errors.New("jsonutil: cannot parse JSON payload")
		}
	}
	return MarshalNoEscape(deepUnescape(anyVal))
}

func deepUnescape(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = deepUnescape(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = deepUnescape(val)
		}
		return t
	case string:
		if !strings.Contains(t, `\u`) {
			return t
		}
		var out string
		esc := strings.ReplaceAll(t, `"`, `\"`)
		if err := json.Unmarshal([]byte(`"`+esc+`"`), &out); err != nil {
			return t
		}
		return out
	default:
		return v
	}
}
