package runner

import "testing"

func TestIdempotencyHashUsesResolvedKeyFieldsInOrder(t *testing.T) {
	source := idempotencySource{}
	source.Task.ID = "abc123"
	source.Task.Type = "code_review"
	source.Interpret.Objective = "review PR 42"

	h1 := IdempotencyHash([]string{"task.id", "interpret.objective"}, source)
	h2 := IdempotencyHash([]string{"interpret.objective", "task.id"}, source)

	if h1 == h2 {
		t.Fatalf("expected different hashes for different key field orders, both were %s", h1)
	}

	h1Again := IdempotencyHash([]string{"task.id", "interpret.objective"}, source)
	if h1 != h1Again {
		t.Fatalf("expected deterministic hash, got %s then %s", h1, h1Again)
	}
}

func TestIdempotencyHashFallsBackWhenNoKeyFieldsResolve(t *testing.T) {
	source := idempotencySource{}
	source.Task.ID = "abc123"
	source.Task.Type = "code_review"
	source.Task.Title = "Review PR 42"
	source.Task.Prompt = "review this"
	source.Interpret.Objective = "review PR 42"

	withMissingFields := IdempotencyHash([]string{"task.nonexistent"}, source)
	withNoFields := IdempotencyHash(nil, source)

	if withMissingFields != withNoFields {
		t.Fatalf("expected fallback hash regardless of unresolved key fields, got %s vs %s", withMissingFields, withNoFields)
	}
}

func TestIdempotencyHashChangesWithResolvedValue(t *testing.T) {
	source := idempotencySource{}
	source.Task.ID = "abc123"

	h1 := IdempotencyHash([]string{"task.id"}, source)

	source.Task.ID = "different"
	h2 := IdempotencyHash([]string{"task.id"}, source)

	if h1 == h2 {
		t.Fatalf("expected hash to change when the resolved field's value changes")
	}
}
