package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/ragpipe/internal/agent/telemetry"
	"github.com/mohammad-safakhou/ragpipe/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var orchestratorTracer trace.Tracer = otel.Tracer("ragpipe/internal/agent/orchestrator")

// Options tunes an Orchestrator.
type Options struct {
	// RunID names the run; a random id is used when empty.
	RunID         string
	MaxPlanSteps  int
	ExecutorTurns int
	Emitter       Emitter
	Logger        *log.Logger
	Metrics       *telemetry.Metrics
	Debug         bool
}

// Orchestrator runs the plan, execute, critique, reflect and summarize loop
// for one goal. It holds no state between runs.
type Orchestrator struct {
	runner  RoleRunner
	roles   Roles
	opts    Options
	logger  *log.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// runState is the mutable state of a single run.
type runState struct {
	goal            string
	plan            ParsedPlan
	steps           []StepRecord
	lastInstruction string
	lastOutput      string
	executed        bool
}

func (s *runState) outputs() []string {
	out := make([]string, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.Output
	}
	return out
}

func (s *runState) instructions() []string {
	out := make([]string, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.Instruction
	}
	return out
}

// NewOrchestrator creates an orchestrator over runner and roles.
func NewOrchestrator(runner RoleRunner, roles Roles, opts Options) *Orchestrator {
	if opts.MaxPlanSteps <= 0 {
		opts.MaxPlanSteps = 6
	}
	if opts.ExecutorTurns <= 0 {
		opts.ExecutorTurns = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		runner:  runner,
		roles:   roles,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// Run answers goal. It always produces an answer when at least one role call
// succeeds; an error is returned only when the context is cancelled or when
// nothing at all could be produced.
func (o *Orchestrator) Run(ctx context.Context, goal string) (Result, error) {
	start := o.now()
	id := o.opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	res := Result{ID: id, Goal: goal, StartedAt: start}
	ctx, span := orchestratorTracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("run.id", res.ID),
			attribute.Int("run.max_plan_steps", o.opts.MaxPlanSteps),
		))
	defer span.End()
	o.logger.Printf("run %s started", res.ID)

	st := &runState{goal: goal}
	if err := o.makePlan(ctx, st); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.fail(span, res, ctxErr)
		}
		o.logger.Printf("run %s: planning failed, continuing without a plan: %v", res.ID, err)
		res.Degraded = true
	}
	res.Plan = st.plan

	for i := 0; i < o.opts.MaxPlanSteps; i++ {
		if err := ctx.Err(); err != nil {
			return o.fail(span, res, err)
		}
		instruction, stop, err := o.nextInstruction(ctx, st)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return o.fail(span, res, ctxErr)
			}
			o.logger.Printf("run %s: choosing step %d failed: %v", res.ID, i+1, err)
			res.Degraded = true
			break
		}
		if stop {
			res.Terminated = true
			break
		}

		res.Iterations++
		output, err := o.executeStep(ctx, st, instruction)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return o.fail(span, res, ctxErr)
			}
			o.logger.Printf("run %s: executing step %d failed: %v", res.ID, i+1, err)
			res.Degraded = true
			break
		}
		st.lastInstruction = instruction
		st.lastOutput = output
		st.executed = true
	}
	res.Steps = st.steps

	answer, err := o.summarize(ctx, st)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.fail(span, res, ctxErr)
		}
		if len(st.steps) == 0 {
			return o.fail(span, res, fmt.Errorf("final summary: %w", err))
		}
		o.logger.Printf("run %s: final summary failed, returning collected outputs: %v", res.ID, err)
		answer = strings.Join(st.outputs(), "\n\n")
		res.Degraded = true
	}
	res.Answer = answer
	res.Duration = o.now().Sub(start)

	outcome := "completed"
	if res.Degraded {
		outcome = "degraded"
	}
	o.metrics.RecordRun(outcome)
	span.SetAttributes(
		attribute.Int("run.iterations", res.Iterations),
		attribute.Int("run.successful_steps", len(res.Steps)),
		attribute.Bool("run.terminated", res.Terminated),
	)
	span.SetStatus(codes.Ok, "")
	o.logger.Printf("run %s finished in %v: %d iterations, %d successful steps", res.ID, res.Duration, res.Iterations, len(res.Steps))
	return res, nil
}

func (o *Orchestrator) fail(span trace.Span, res Result, err error) (Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.metrics.RecordRun("failed")
	o.logger.Printf("run %s failed: %v", res.ID, err)
	return res, err
}

func (o *Orchestrator) makePlan(ctx context.Context, st *runState) error {
	ctx, span := orchestratorTracer.Start(ctx, "agent.plan")
	defer span.End()

	o.emit(ctx, ProgressPlanning)
	raw, err := o.ask(ctx, o.roles.Planner, st.goal)
	if err != nil {
		span.RecordError(err)
		return err
	}
	st.plan = ParseResponse(raw)
	span.SetAttributes(attribute.String("plan.kind", st.plan.Kind.String()), attribute.Int("plan.steps", len(st.plan.StepList())))
	if st.plan.Kind == PlanEmpty {
		o.logger.Printf("planner reply held no usable plan: %q", raw)
	}
	return nil
}

// nextInstruction decides what to execute next. stop is true when the
// Reflector declared the goal met.
func (o *Orchestrator) nextInstruction(ctx context.Context, st *runState) (string, bool, error) {
	if !st.executed {
		if steps := st.plan.StepList(); len(steps) > 0 {
			return steps[0], false, nil
		}
		// Without a plan the Reflector picks the first step.
		instruction, err := o.ask(ctx, o.roles.Reflector, o.reflectionMessage(st, "", ""))
		if err != nil {
			return "", false, err
		}
		return instruction, isStop(instruction), nil
	}

	ctx, span := orchestratorTracer.Start(ctx, "agent.reflect")
	defer span.End()

	o.emit(ctx, ProgressNextStep)
	verdict, err := o.ask(ctx, o.roles.Generic, CriticMessage(st.lastInstruction, st.lastOutput))
	if err != nil {
		span.RecordError(err)
		return "", false, err
	}
	accepted := !strings.Contains(verdict, MarkerNo)
	o.metrics.RecordVerdict(accepted)
	span.SetAttributes(attribute.Bool("critic.accepted", accepted))

	previous := st.lastInstruction
	if !accepted {
		previous = FailedStepNote(st.lastInstruction, verdict)
	}
	message := o.reflectionMessage(st, previous, st.lastOutput)

	// Rejected steps never reach the history handed to later steps.
	if accepted {
		st.steps = append(st.steps, StepRecord{Instruction: st.lastInstruction, Output: st.lastOutput})
	}

	instruction, err := o.ask(ctx, o.roles.Reflector, message)
	if err != nil {
		span.RecordError(err)
		return "", false, err
	}
	return instruction, isStop(instruction), nil
}

func isStop(instruction string) bool {
	return strings.Contains(instruction, MarkerTerminate) || strings.TrimSpace(instruction) == ""
}

type reflectionInput struct {
	Goal           string   `json:"Goal"`
	Plan           []string `json:"Plan"`
	PreviousStep   string   `json:"Previous Step"`
	PreviousOutput string   `json:"Previous Output"`
	StepsTaken     []string `json:"Steps Taken"`
}

func (o *Orchestrator) reflectionMessage(st *runState, previousStep, previousOutput string) string {
	in := reflectionInput{
		Goal:           st.goal,
		Plan:           st.plan.StepList(),
		PreviousStep:   previousStep,
		PreviousOutput: previousOutput,
		StepsTaken:     st.instructions(),
	}
	if in.Plan == nil {
		in.Plan = []string{}
	}
	b, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", in)
	}
	return string(b)
}

func (o *Orchestrator) executeStep(ctx context.Context, st *runState, instruction string) (string, error) {
	ctx, span := orchestratorTracer.Start(ctx, "agent.execute_step",
		trace.WithAttributes(attribute.String("step.instruction", instruction)))
	defer span.End()

	o.emit(ctx, ProgressExecuting+instruction)
	o.metrics.RecordStep()

	prompt := ExecutionPrompt(instruction, st.outputs())
	ex, err := o.exchange(ctx, o.roles.Executor, prompt, o.opts.ExecutorTurns)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	replies := ex.From(o.roles.Executor.Name)
	span.SetAttributes(attribute.Int("step.turns", ex.Turns), attribute.Int("step.replies", len(replies)))

	output, err := o.ask(ctx, o.roles.Generic, ReformatMessage(instruction, replies))
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return output, nil
}

func (o *Orchestrator) summarize(ctx context.Context, st *runState) (string, error) {
	ctx, span := orchestratorTracer.Start(ctx, "agent.summarize",
		trace.WithAttributes(attribute.Int("summary.inputs", len(st.steps))))
	defer span.End()

	o.emit(ctx, ProgressSummarizing)
	answer, err := o.ask(ctx, o.roles.Generic, FinalMessage(st.goal, st.outputs()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return answer, err
}

// ask runs a single-turn exchange and returns the role's reply.
func (o *Orchestrator) ask(ctx context.Context, role Role, content string) (string, error) {
	ex, err := o.exchange(ctx, role, content, 1)
	if err != nil {
		return "", err
	}
	return ex.Content(), nil
}

func (o *Orchestrator) exchange(ctx context.Context, role Role, content string, maxTurns int) (Exchange, error) {
	start := o.now()
	msg := models.Message{Role: models.RoleUser, Name: DriverName, Content: content}
	ex, err := o.runner.Reply(ctx, role, []models.Message{msg}, maxTurns)
	elapsed := o.now().Sub(start)
	o.metrics.RecordRole(role.Name, elapsed, err)
	if err != nil {
		return Exchange{}, fmt.Errorf("%s: %w", role.Name, err)
	}
	if o.opts.Debug {
		o.logger.Printf("%s replied in %v after %d turns: %q", role.Name, elapsed, ex.Turns, ex.Content())
	} else {
		o.logger.Printf("%s replied in %v after %d turns", role.Name, elapsed, ex.Turns)
	}
	return ex, nil
}

// emit delivers a progress event; delivery failures are logged and ignored.
func (o *Orchestrator) emit(ctx context.Context, text string) {
	if o.opts.Emitter == nil {
		return
	}
	err := o.opts.Emitter(ctx, NewProgressEvent(text))
	o.metrics.RecordEvent(err)
	if err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Printf("emitting event failed: %v", err)
	}
}
