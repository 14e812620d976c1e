package gateway

import "encoding/json"

// ExtractUserOutput implements spec.md §4.5's user-output extractor: the
// text used for the terminal artifact envelope's content. outputJSON is
// an attempt's output_json. Preference order: report.message_markdown,
// execute.summary, top-level output, top-level error; failing all of
// those, the whole object is serialized.
func ExtractUserOutput(outputJSON string) string {
	var top map[string]any
	if err := json.Unmarshal([]byte(outputJSON), &top); err != nil {
		return outputJSON
	}

	if phaseOutputs, ok := top["phase_outputs"].(map[string]any); ok {
		if report, ok := phaseOutputs["report"].(map[string]any); ok {
			if s, ok := report["message_markdown"].(string); ok && s != "" {
				return s
			}
		}
		if execute, ok := phaseOutputs["execute"].(map[string]any); ok {
			if s, ok := execute["summary"].(string); ok && s != "" {
				return s
			}
		}
	}

	if s, ok := top["output"].(string); ok && s != "" {
		return s
	}
	if s, ok := top["error"].(string); ok && s != "" {
		return s
	}

	return outputJSON
}
