package llmtool

import (
	"bytes"
	"fmt"
	"strings"
)

// PromptField describes a single output field in a simple schema.
type PromptField struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// PromptSpec defines the sections of an agent prompt. The request input is
// appended by the LLM client, so it is not part of the rendered text.
type PromptSpec struct {
	Role         string
	Purpose      string
	Background   string
	OutputFields []PromptField
	Constraints  []string
	Rules        []string
	OutputFormat string
	Example      string
}

// Render builds the prompt text with one [SECTION] block per non-empty field.
func (s PromptSpec) Render() (string, error) {
	if strings.TrimSpace(s.Purpose) == "" {
		return "", fmt.Errorf("llmtool: purpose is empty")
	}
	if len(s.OutputFields) == 0 {
		return "", fmt.Errorf("llmtool: output fields are empty")
	}

	var buf bytes.Buffer
	writeSection(&buf, "ROLE", s.Role)
	writeSection(&buf, "PURPOSE", s.Purpose)
	writeSection(&buf, "BACKGROUND", s.Background)
	writeSection(&buf, "OUTPUT", formatFields(s.OutputFields))
	writeSection(&buf, "CONSTRAINTS", formatList(s.Constraints))
	writeSection(&buf, "RULES", formatList(s.Rules))
	writeSection(&buf, "OUTPUT_FORMAT", s.OutputFormat)
	writeSection(&buf, "EXAMPLE", s.Example)
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// MustRender is Render for prompts declared as package-level literals.
func (s PromptSpec) MustRender() string {
	out, err := s.Render()
	if err != nil {
		panic(err)
	}
	return out
}

func formatFields(fields []PromptField) string {
	var buf strings.Builder
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		req := "optional"
		if f.Required {
			req = "required"
		}
		if f.Description != "" {
			fmt.Fprintf(&buf, "- %s (%s, %s): %s\n", name, f.Type, req, f.Description)
		} else {
			fmt.Fprintf(&buf, "- %s (%s, %s)\n", name, f.Type, req)
		}
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	buf.WriteString("[")
	buf.WriteString(title)
	buf.WriteString("]\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
}
