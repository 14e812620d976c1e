package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

var unwrapKeys = []string{"result", "output", "text", "message", "content"}

// ExtractPhaseOutput implements the output parsing contract of spec.md
// §4.4: pull fenced code blocks first, then try direct brace extraction,
// then try unwrapping a handful of well-known string/array member names.
// A candidate object that itself carries one of those wrapper keys (a
// provider CLI's own result envelope) is unwrapped in preference to
// being returned as-is.
func ExtractPhaseOutput(captured string) (map[string]any, error) {
	text := captured
	if m := fencedJSONBlock.FindStringSubmatch(captured); m != nil {
		text = m[1]
	}

	obj, ok := directExtract(text)
	if !ok {
		return nil, fmt.Errorf("could not extract a JSON object from provider output")
	}

	if unwrapped, ok := unwrapTopLevel(obj); ok {
		return unwrapped, nil
	}
	return obj, nil
}

// directExtract takes the substring from the first '{' to the last '}'
// and parses it, requiring the result to be a JSON object.
func directExtract(text string) (map[string]any, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func unwrapTopLevel(obj map[string]any) (map[string]any, bool) {
	for _, key := range unwrapKeys {
		v, present := obj[key]
		if !present {
			continue
		}
		switch inner := v.(type) {
		case string:
			if result, ok := directExtract(inner); ok {
				return result, true
			}
		case []any:
			var sb strings.Builder
			for _, el := range inner {
				if m, ok := el.(map[string]any); ok {
					if t, ok := m["text"].(string); ok {
						sb.WriteString(t)
					}
				}
			}
			if result, ok := directExtract(sb.String()); ok {
				return result, true
			}
		}
	}
	return nil, false
}
