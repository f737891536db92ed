package llmtool

// PromptPreset holds reusable constraints and rules shared by agent prompts.
type PromptPreset struct {
	Constraints []string
	Rules       []string
}

// ApplyPresets prepends preset constraints and rules to spec.
func ApplyPresets(spec PromptSpec, presets ...PromptPreset) PromptSpec {
	if len(presets) == 0 {
		return spec
	}
	var merged PromptPreset
	for _, p := range presets {
		merged.Constraints = append(merged.Constraints, p.Constraints...)
		merged.Rules = append(merged.Rules, p.Rules...)
	}
	spec.Constraints = append(merged.Constraints, spec.Constraints...)
	spec.Rules = append(merged.Rules, spec.Rules...)
	return spec
}

// PresetStrictJSON enforces a single JSON object as the answer.
func PresetStrictJSON() PromptPreset {
	return PromptPreset{
		Constraints: []string{
			"Return one JSON object only.",
			"Match the output fields exactly; no extra fields.",
			"No markdown, comments, or trailing commas.",
		},
	}
}

// PresetDesignVocabulary keeps descriptions in the language of visual design.
func PresetDesignVocabulary() PromptPreset {
	return PromptPreset{
		Rules: []string{
			"Describe mood, material, color, form and composition in concrete design terms.",
			"Do not mention file names, encodings or that the input was an upload.",
		},
	}
}
