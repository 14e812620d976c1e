package runner

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// idempotencySource is the canonical field set the dedup key is drawn
// from, per spec.md §4.4's idempotency key formula.
type idempotencySource struct {
	Task struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Title  string `json:"title"`
		Prompt string `json:"prompt"`
	} `json:"task"`
	Interpret struct {
		Objective string `json:"objective"`
	} `json:"interpret"`
}

// IdempotencyHash computes the SHA-256 hex digest of the canonical
// string derived from keyFields (dot-paths into source) or, if none of
// them resolve, the fixed fallback "id|type|title|prompt|objective".
// This hashing-adapted-from-audit-trail approach mirrors the teacher's
// hashInputs: marshal to a deterministic representation, SHA-256 it.
func IdempotencyHash(keyFields []string, source idempotencySource) string {
	canonical := canonicalizeSource(keyFields, source)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func canonicalizeSource(keyFields []string, source idempotencySource) string {
	resolved := resolveFields(keyFields, source)
	if len(resolved) > 0 {
		pairs := make([]string, 0, len(resolved))
		for _, path := range keyFields {
			v, ok := resolved[path]
			if !ok {
				v = "null"
			}
			pairs = append(pairs, path+"="+v)
		}
		return strings.Join(pairs, "|")
	}

	return strings.Join([]string{
		source.Task.ID, source.Task.Type, source.Task.Title, source.Task.Prompt, source.Interpret.Objective,
	}, "|")
}

// resolveFields looks up each dot-path in source, returning a map of
// path to its JSON-encoded value for every path that resolved to a
// defined (non-missing) value.
func resolveFields(keyFields []string, source idempotencySource) map[string]string {
	var asMap map[string]any
	raw, err := json.Marshal(source)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil
	}

	resolved := make(map[string]string)
	for _, path := range keyFields {
		v, ok := lookupPath(asMap, strings.Split(path, "."))
		if !ok {
			continue
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			continue
		}
		resolved[path] = string(encoded)
	}
	return resolved
}

func lookupPath(obj map[string]any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return nil, false
	}
	v, ok := obj[parts[0]]
	if !ok {
		return nil, false
	}
	if len(parts) == 1 {
		return v, true
	}
	next, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookupPath(next, parts[1:])
}
