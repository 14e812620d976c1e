package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskforge/taskforge/internal/models"
	"github.com/taskforge/taskforge/internal/store"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func TestCreateTaskDefaultsAndClamping(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	task, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "say hi", Priority: 9}, 3)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Title != "Untitled task" {
		t.Errorf("expected default title, got %q", task.Title)
	}
	if task.Priority != 5 {
		t.Errorf("expected priority clamped to 5, got %d", task.Priority)
	}
	if task.Status != models.TaskStatusQueued {
		t.Errorf("expected queued status, got %s", task.Status)
	}

	events, err := r.ListEvents(ctx, 10, &task.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Message != "task_created" {
		t.Errorf("expected one task_created event, got %+v", events)
	}
}

// Scenario 1: basic lean success.
func TestBasicLeanSuccess(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	task, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "say hi", TaskRequest: `{"mode":"lean"}`}, 3)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	claimed, err := r.ClaimNextTask(ctx, "w1", 60)
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("expected to claim %s, got %+v", task.ID, claimed)
	}

	started, err := r.StartAttempt(ctx, task.ID, "w1", 60)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if started == nil || started.AttemptNo != 1 {
		t.Fatalf("expected attempt_no=1, got %+v", started)
	}

	err = r.CompleteAttempt(ctx, task.ID, "w1", started.AttemptID, AttemptResult{
		AttemptNo:  1,
		Succeeded:  true,
		OutputJSON: `{"mode":{"configured":"lean","effective":"lean"}}`,
		Phase:      "report",
	})
	if err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}

	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskStatusDone {
		t.Errorf("expected done, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("expected attempt_count=1, got %d", got.AttemptCount)
	}
}

// Scenario 2: retry on failure then success.
func TestRetryOnFailureThenSuccess(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	task, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "say hi", MaxAttempts: 3}, 3)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := r.ClaimNextTask(ctx, "w1", 60); err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	started, err := r.StartAttempt(ctx, task.ID, "w1", 60)
	if err != nil || started == nil {
		t.Fatalf("StartAttempt: %v, %+v", err, started)
	}

	boom := "boom"
	if err := r.CompleteAttempt(ctx, task.ID, "w1", started.AttemptID, AttemptResult{
		AttemptNo: 1,
		Succeeded: false,
		ErrorMsg:  &boom,
	}); err != nil {
		t.Fatalf("CompleteAttempt (fail): %v", err)
	}

	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskStatusQueued {
		t.Errorf("expected requeued, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("expected attempt_count=1 after first failure, got %d", got.AttemptCount)
	}

	if _, err := r.ClaimNextTask(ctx, "w2", 60); err != nil {
		t.Fatalf("second ClaimNextTask: %v", err)
	}
	started2, err := r.StartAttempt(ctx, task.ID, "w2", 60)
	if err != nil || started2 == nil {
		t.Fatalf("second StartAttempt: %v, %+v", err, started2)
	}
	if started2.AttemptNo != 2 {
		t.Errorf("expected attempt_no=2, got %d", started2.AttemptNo)
	}

	if err := r.CompleteAttempt(ctx, task.ID, "w2", started2.AttemptID, AttemptResult{
		AttemptNo: 2,
		Succeeded: true,
	}); err != nil {
		t.Fatalf("CompleteAttempt (succeed): %v", err)
	}

	final, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if final.Status != models.TaskStatusDone {
		t.Errorf("expected done, got %s", final.Status)
	}
	if final.AttemptCount != 2 {
		t.Errorf("expected attempt_count=2, got %d", final.AttemptCount)
	}
}

// Scenario 4: lease expiry reclaim.
func TestLeaseExpiryReclaim(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	task, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "say hi", MaxAttempts: 3}, 3)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if _, err := r.ClaimNextTask(ctx, "w1", 1); err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if _, err := r.StartAttempt(ctx, task.ID, "w1", 1); err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	claimed, err := r.ClaimNextTask(ctx, "w2", 60)
	if err != nil {
		t.Fatalf("second ClaimNextTask: %v", err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("expected w2 to reclaim %s, got %+v", task.ID, claimed)
	}

	started, err := r.StartAttempt(ctx, task.ID, "w2", 60)
	if err != nil || started == nil {
		t.Fatalf("StartAttempt after reclaim: %v, %+v", err, started)
	}
	if started.AttemptNo != 2 {
		t.Errorf("expected attempt_no=2 after reclaim, got %d", started.AttemptNo)
	}
}

func TestClaimDeterminismByPriorityThenCreatedAt(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	low, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "low priority", Priority: 5}, 3)
	if err != nil {
		t.Fatalf("CreateTask low: %v", err)
	}
	high, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "high priority", Priority: 1}, 3)
	if err != nil {
		t.Fatalf("CreateTask high: %v", err)
	}
	lowLater, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "low priority, created later", Priority: 5}, 3)
	if err != nil {
		t.Fatalf("CreateTask lowLater: %v", err)
	}

	claimed, err := r.ClaimNextTask(ctx, "w1", 60)
	if err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}
	if claimed == nil || claimed.ID != high.ID {
		t.Fatalf("expected highest priority task claimed first, got %+v", claimed)
	}

	for _, want := range []string{low.ID, lowLater.ID} {
		next, err := r.ClaimNextTask(ctx, "w1", 60)
		if err != nil {
			t.Fatalf("ClaimNextTask: %v", err)
		}
		if next == nil || next.ID != want {
			t.Fatalf("expected equal-priority tasks claimed in created_at order, want %s, got %+v", want, next)
		}
	}
}

func TestHeartbeatIsNoOpOnOwnerMismatch(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	task, err := r.CreateTask(ctx, CreateTaskInput{Prompt: "say hi"}, 3)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := r.ClaimNextTask(ctx, "w1", 60); err != nil {
		t.Fatalf("ClaimNextTask: %v", err)
	}

	if err := r.Heartbeat(ctx, task.ID, "someone-else", "execute", 60); err != nil {
		t.Fatalf("Heartbeat should not error on mismatch: %v", err)
	}

	got, err := r.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.LeaseOwner == nil || *got.LeaseOwner != "w1" {
		t.Errorf("expected lease owner unchanged, got %+v", got.LeaseOwner)
	}
}

func TestStateGetSetUpsert(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if _, _, ok, err := r.GetState(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key to be absent, ok=%v err=%v", ok, err)
	}

	firstUpdatedAt, err := r.SetState(ctx, "idempotency:abc", `{"taskId":"t1"}`)
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	value, updatedAt, ok, err := r.GetState(ctx, "idempotency:abc")
	if err != nil || !ok {
		t.Fatalf("expected key present, ok=%v err=%v", ok, err)
	}
	if value != `{"taskId":"t1"}` {
		t.Errorf("unexpected value %q", value)
	}
	if updatedAt != firstUpdatedAt {
		t.Errorf("expected GetState's updated_at to match SetState's return, got %q vs %q", updatedAt, firstUpdatedAt)
	}

	if _, err := r.SetState(ctx, "idempotency:abc", `{"taskId":"t2"}`); err != nil {
		t.Fatalf("SetState update: %v", err)
	}
	value, _, _, err = r.GetState(ctx, "idempotency:abc")
	if err != nil {
		t.Fatalf("GetState after update: %v", err)
	}
	if value != `{"taskId":"t2"}` {
		t.Errorf("expected updated value, got %q", value)
	}
}
