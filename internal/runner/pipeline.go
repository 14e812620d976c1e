package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/taskforge/taskforge/internal/provider"
)

// Pipeline runs a single task attempt's phase sequence end to end,
// mirroring spec.md §4.4's mode-selection and phase-chaining rules.
type Pipeline struct {
	client        *Client
	prompts       *PromptLoader
	adapter       provider.Adapter
	phaseTimeout  time.Duration
	runsRoot      string
	workerID      string
	streamJobLogs bool
}

// NewPipeline wires together the pieces a phase run needs: the Gateway
// client for event/state calls, the base prompt loader, the provider
// adapter driving the subprocess, and runsRoot, the directory under
// which each attempt gets its own run-scoped working directory
// (spec.md:140,302 — "./runs/<run_id>/").
func NewPipeline(client *Client, prompts *PromptLoader, adapter provider.Adapter, phaseTimeout time.Duration, runsRoot, workerID string) *Pipeline {
	return &Pipeline{
		client:       client,
		prompts:      prompts,
		adapter:      adapter,
		phaseTimeout: phaseTimeout,
		runsRoot:     runsRoot,
		workerID:     workerID,
	}
}

// runDirFor returns the run-scoped working directory for a task's
// attempt. The task's own id is used as the run id (§4.5 Open Question:
// a /tasks/run call creates exactly one task, so run_id == task id).
func (p *Pipeline) runDirFor(taskID string) string {
	return filepath.Join(p.runsRoot, taskID)
}

// Outcome is the result of running a task's full pipeline, ready to be
// handed to Client.Complete.
type Outcome struct {
	Succeeded    bool
	Blocked      bool
	FinalPhase   string
	OutputJSON   string
	ErrorMessage *string
}

// phaseOutputs accumulates each phase's parsed structured output,
// keyed by phase name, matching output_json.phase_outputs in spec.md §4.4.
type phaseOutputs map[string]map[string]any

// toMap widens phaseOutputs to map[string]any for embedding as a prompt
// input value alongside other any-typed fields.
func (o phaseOutputs) toMap() map[string]any {
	m := make(map[string]any, len(o))
	for k, v := range o {
		m[k] = v
	}
	return m
}

// Run executes the pipeline for task, selecting lean or full mode and
// returning the Outcome to report back to the Gateway.
func (p *Pipeline) Run(ctx context.Context, task *TaskView, attemptID int64, declaredMode string) (*Outcome, error) {
	outputs := phaseOutputs{}

	runDir := p.runDirFor(task.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", runDir, err)
	}

	mode, err := p.resolveMode(ctx, task, attemptID, declaredMode, outputs)
	if err != nil {
		return nil, fmt.Errorf("resolve mode: %w", err)
	}

	if mode == "full" {
		return p.runFull(ctx, task, attemptID, outputs)
	}
	return p.runLean(ctx, task, attemptID, outputs)
}

// resolveMode returns "lean" or "full". A declared lean/full mode is
// used as-is; "auto" runs the classifier phase, whose structured
// output's mode field is collapsed to "lean" unless it is exactly "full".
func (p *Pipeline) resolveMode(ctx context.Context, task *TaskView, attemptID int64, declaredMode string, outputs phaseOutputs) (string, error) {
	if declaredMode == "lean" || declaredMode == "full" {
		return declaredMode, nil
	}

	out, _, err := p.runPhase(ctx, task, attemptID, "classifier", p.classifierInput(task), "")
	if err != nil {
		return "", err
	}
	outputs["classifier"] = out

	mode, _ := out["mode"].(string)
	if mode != "full" {
		return "lean", nil
	}
	return "full", nil
}

func (p *Pipeline) classifierInput(task *TaskView) map[string]any {
	return map[string]any{
		"task": taskView(task),
	}
}

func taskView(task *TaskView) map[string]any {
	m := map[string]any{
		"id":     task.ID,
		"type":   task.Type,
		"title":  task.Title,
		"prompt": task.Prompt,
	}
	if task.SuccessCriteria != nil {
		m["success_criteria"] = *task.SuccessCriteria
	}
	return m
}

// runLean implements the execute -> verify -> report sequence.
func (p *Pipeline) runLean(ctx context.Context, task *TaskView, attemptID int64, outputs phaseOutputs) (*Outcome, error) {
	execOut, _, err := p.runPhase(ctx, task, attemptID, "execute", map[string]any{"task": taskView(task)}, "")
	if err != nil {
		return p.errorOutcome("execute", outputs, err), nil
	}
	outputs["execute"] = execOut

	status, _ := execOut["status"].(string)
	if status != "succeeded" && status != "failed" {
		return p.errorOutcome("execute", outputs, fmt.Errorf("execute phase returned invalid status %q", status)), nil
	}

	verifyOut, err := p.runVerify(ctx, task, attemptID, outputs, status)
	if err != nil {
		return p.errorOutcome("verify", outputs, err), nil
	}
	outputs["verify"] = verifyOut

	return p.finish(ctx, task, attemptID, outputs, verifyOut)
}

// runFull implements interpret -> plan -> policy -> execute -> verify -> report,
// including interpret's early-exit and policy's idempotency short-circuit.
func (p *Pipeline) runFull(ctx context.Context, task *TaskView, attemptID int64, outputs phaseOutputs) (*Outcome, error) {
	interpretOut, _, err := p.runPhase(ctx, task, attemptID, "interpret", map[string]any{"task": taskView(task)}, "")
	if err != nil {
		return p.errorOutcome("interpret", outputs, err), nil
	}
	outputs["interpret"] = interpretOut

	route, _ := interpretOut["route"].(string)
	criticalBlocker, _ := interpretOut["critical_blocker"].(bool)
	if route == "blocked_for_clarification" && criticalBlocker {
		return p.blockedOutcome("interpret", outputs), nil
	}

	planOut, _, err := p.runPhase(ctx, task, attemptID, "plan", map[string]any{
		"task":      taskView(task),
		"interpret": interpretOut,
	}, "")
	if err != nil {
		return p.errorOutcome("plan", outputs, err), nil
	}
	outputs["plan"] = planOut

	policyOut, _, err := p.runPhase(ctx, task, attemptID, "policy", map[string]any{
		"task":      taskView(task),
		"interpret": interpretOut,
		"plan":      planOut,
	}, "")
	if err != nil {
		return p.errorOutcome("policy", outputs, err), nil
	}
	outputs["policy"] = policyOut

	hash, cached, err := p.checkIdempotency(task, interpretOut, policyOut)
	if err != nil {
		return p.errorOutcome("policy", outputs, err), nil
	}
	if cached != nil {
		return cached, nil
	}

	executeSchemaPath, err := p.resolveExecuteSchema(task, planOut)
	if err != nil {
		return p.errorOutcome("plan", outputs, err), nil
	}

	execOut, _, err := p.runPhase(ctx, task, attemptID, "execute", map[string]any{
		"task":      taskView(task),
		"interpret": interpretOut,
		"plan":      planOut,
	}, executeSchemaPath)
	if err != nil {
		return p.errorOutcome("execute", outputs, err), nil
	}
	outputs["execute"] = execOut

	status, _ := execOut["status"].(string)
	if status != "succeeded" && status != "failed" {
		return p.errorOutcome("execute", outputs, fmt.Errorf("execute phase returned invalid status %q", status)), nil
	}

	verifyOut, err := p.runVerify(ctx, task, attemptID, outputs, status)
	if err != nil {
		return p.errorOutcome("verify", outputs, err), nil
	}
	outputs["verify"] = verifyOut

	outcome, err := p.finish(ctx, task, attemptID, outputs, verifyOut)
	if err != nil {
		return nil, err
	}

	if hash != "" && outcome.Succeeded {
		if marshalErr := p.rememberIdempotent(hash, outcome); marshalErr != nil {
			return nil, marshalErr
		}
	}
	return outcome, nil
}

// resolveExecuteSchema implements spec.md:162's plan-phase schema
// override: only when plan declares execute_output_strict=true,
// execute_output_format="json", and a non-nil schema object, the
// schema is marshaled and written to a file under the task's run
// directory; that path becomes the execute phase's schema argument.
// Any other combination leaves the execute phase schema-less.
func (p *Pipeline) resolveExecuteSchema(task *TaskView, planOut map[string]any) (string, error) {
	strict, _ := planOut["execute_output_strict"].(bool)
	format, _ := planOut["execute_output_format"].(string)
	schema, hasSchema := planOut["execute_output_schema"]
	if !strict || format != "json" || !hasSchema || schema == nil {
		return "", nil
	}

	body, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshal execute schema: %w", err)
	}

	path := filepath.Join(p.runDirFor(task.ID), "execute.schema.json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write execute schema: %w", err)
	}
	return path, nil
}

// runVerify runs the verify phase's base prompt when the task declared
// a non-empty success_criteria; otherwise it synthesizes pass from
// execute's status, with no provider call, per spec.md §4.4.
func (p *Pipeline) runVerify(ctx context.Context, task *TaskView, attemptID int64, outputs phaseOutputs, executeStatus string) (map[string]any, error) {
	if task.SuccessCriteria == nil || *task.SuccessCriteria == "" {
		return map[string]any{"pass": executeStatus == "succeeded", "synthesized": true}, nil
	}

	out, _, err := p.runPhase(ctx, task, attemptID, "verify", map[string]any{
		"task":    taskView(task),
		"execute": outputs["execute"],
	}, "")
	return out, err
}

// finish runs the report phase and assembles the final Outcome.
func (p *Pipeline) finish(ctx context.Context, task *TaskView, attemptID int64, outputs phaseOutputs, verifyOut map[string]any) (*Outcome, error) {
	reportOut, _, err := p.runPhase(ctx, task, attemptID, "report", map[string]any{
		"task":    taskView(task),
		"outputs": outputs.toMap(),
	}, "")
	if err != nil {
		return p.errorOutcome("report", outputs, err), nil
	}
	outputs["report"] = reportOut

	pass, _ := verifyOut["pass"].(bool)

	body, err := json.Marshal(map[string]any{"phase_outputs": outputs})
	if err != nil {
		return nil, fmt.Errorf("marshal output_json: %w", err)
	}

	return &Outcome{
		Succeeded:  pass,
		FinalPhase: "report",
		OutputJSON: string(body),
	}, nil
}

func (p *Pipeline) blockedOutcome(finalPhase string, outputs phaseOutputs) *Outcome {
	body, _ := json.Marshal(map[string]any{"phase_outputs": outputs})
	return &Outcome{
		Blocked:    true,
		FinalPhase: finalPhase,
		OutputJSON: string(body),
	}
}

func (p *Pipeline) errorOutcome(finalPhase string, outputs phaseOutputs, cause error) *Outcome {
	body, _ := json.Marshal(map[string]any{"phase_outputs": outputs})
	msg := cause.Error()
	return &Outcome{
		Succeeded:    false,
		FinalPhase:   finalPhase,
		OutputJSON:   string(body),
		ErrorMessage: &msg,
	}
}

// checkIdempotency computes the policy-declared dedup key and consults
// RunState for a prior done-marker, short-circuiting the remaining
// phases when one is found, per spec.md §4.4/§7.2.
func (p *Pipeline) checkIdempotency(task *TaskView, interpretOut, policyOut map[string]any) (hash string, cached *Outcome, err error) {
	var keyFields []string
	if raw, ok := policyOut["idempotency_key_fields"].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				keyFields = append(keyFields, s)
			}
		}
	}

	source := idempotencySource{}
	source.Task.ID = task.ID
	source.Task.Type = task.Type
	source.Task.Title = task.Title
	source.Task.Prompt = task.Prompt
	if objective, ok := interpretOut["objective"].(string); ok {
		source.Interpret.Objective = objective
	}

	hash = IdempotencyHash(keyFields, source)

	value, ok, err := p.client.GetState(idempotencyStateKey(hash))
	if err != nil {
		return hash, nil, fmt.Errorf("check idempotency marker: %w", err)
	}
	if !ok {
		return hash, nil, nil
	}

	var outcome Outcome
	if err := json.Unmarshal([]byte(value), &outcome); err != nil {
		return hash, nil, fmt.Errorf("decode idempotency marker: %w", err)
	}
	return hash, &outcome, nil
}

func (p *Pipeline) rememberIdempotent(hash string, outcome *Outcome) error {
	body, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal idempotency marker: %w", err)
	}
	if err := p.client.SetState(idempotencyStateKey(hash), string(body)); err != nil {
		return fmt.Errorf("store idempotency marker: %w", err)
	}
	return nil
}

func idempotencyStateKey(hash string) string {
	return "idempotency:" + hash
}

// runPhase loads phase's base prompt, builds and spawns the provider
// command, parses its output, and reports phase_started/phase_completed
// events to the Gateway.
func (p *Pipeline) runPhase(ctx context.Context, task *TaskView, attemptID int64, phase string, input map[string]any, schemaPathOverride string) (map[string]any, *SpawnResult, error) {
	base, err := p.prompts.Load(phase)
	if err != nil {
		return nil, nil, err
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s input: %w", phase, err)
	}
	prompt := base + "\n\n" + string(inputJSON)

	// schemaPathOverride is empty for every phase except execute, and
	// even then only when plan declared an output schema (see
	// resolveExecuteSchema) — the schema argument is optional per
	// spec.md §4.6's BuildCommand(prompt, schema?) contract, not a
	// fixed per-phase file.
	command, err := p.adapter.BuildCommand(phase, prompt, schemaPathOverride)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s command: %w", phase, err)
	}

	_ = p.client.AppendEvent(task.ID, p.workerID, &attemptID, phase, "info", phase+"_started", nil)

	onEvent := p.forwardModelEvent(task.ID, attemptID, phase)
	result, err := Spawn(ctx, p.phaseTimeout, p.adapter, command, onEvent)
	if err != nil {
		return nil, nil, fmt.Errorf("%s subprocess: %w", phase, err)
	}
	if result.TimedOut {
		return nil, result, fmt.Errorf("%s phase timed out", phase)
	}

	parsed, err := ExtractPhaseOutput(result.Captured)
	if err != nil {
		return nil, result, fmt.Errorf("%s output: %w", phase, err)
	}

	_ = p.client.AppendEvent(task.ID, p.workerID, &attemptID, phase, "info", phase+"_completed", parsed)

	return parsed, result, nil
}

func (p *Pipeline) forwardModelEvent(taskID string, attemptID int64, phase string) provider.OutputLineHandler {
	actionSeq := 0
	return func(ev provider.ModelEvent) {
		message := string(ev.Kind)
		if ev.Summary != nil {
			message = *ev.Summary
		} else if ev.ResultMessage != nil {
			message = *ev.ResultMessage
		}
		level := ev.Level
		if level == "" {
			level = "info"
		}
		if p.streamJobLogs {
			log.Printf("[%s:%s] %s", taskID, phase, message)
		}

		if ev.Type == provider.ModelEventTypeToolUse {
			actionSeq++
			p.emitToolEnvelopes(taskID, attemptID, phase, ev, actionSeq)
		}

		_ = p.client.AppendEvent(taskID, p.workerID, &attemptID, phase, level, message, ev)
	}
}

// emitToolEnvelopes records an action/tool_result envelope pair for a
// model-reported tool invocation, satisfying spec.md §8's "exactly one
// tool_result per emitted action" invariant: both adapters only ever
// surface a completed tool call as a single ModelEvent (no separate
// pending-call line), so each one yields exactly one paired action and
// tool_result here rather than an action awaiting a later response.
func (p *Pipeline) emitToolEnvelopes(taskID string, attemptID int64, phase string, ev provider.ModelEvent, seq int) {
	actionID := fmt.Sprintf("%s-tool-%d", phase, seq)
	tool := ""
	if len(ev.Message) > 0 {
		tool = ev.Message[0].Content
	}

	action := provider.NewEnvelope(taskID, provider.EnvelopeAction, phase, provider.ProducerModel,
		provider.ActionPayload{ActionID: actionID, StepID: phase, Tool: tool})
	p.appendEnvelope(taskID, attemptID, phase, action)

	var result any
	if ev.ResultMessage != nil {
		result = *ev.ResultMessage
	}
	toolResult := provider.NewEnvelope(taskID, provider.EnvelopeToolResult, phase, provider.ProducerModel,
		provider.ToolResultPayload{ActionID: actionID, OK: true, Result: result})
	p.appendEnvelope(taskID, attemptID, phase, toolResult)
}

func (p *Pipeline) appendEnvelope(taskID string, attemptID int64, phase string, env provider.Envelope) {
	_ = p.client.AppendEvent(taskID, p.workerID, &attemptID, phase, "info", string(env.Type), map[string]any{"envelope": env})
}
