// Package telemetry traces multi-step CLI flows. An Operation announces its
// plan on a root span, runs each step under a child span and reports step
// results to an optional observer, which the CLI uses to print progress.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	PlanEventName      = "wgnt.plan"
	PlanVersion        = "1"
	PlanVersionKey     = "wgnt.plan.version"
	PlanJSONKey        = "wgnt.plan.json"
	StepTitleKey       = "wgnt.step.title"
	defaultOperationID = "operation"
)

type PlannedStep struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Plan struct {
	Steps []PlannedStep `json:"steps"`
}

// StepResult is reported to the observer after each step.
type StepResult struct {
	Step     PlannedStep
	Index    int
	Total    int
	Err      error
	Duration time.Duration
}

// Observer is told about every finished step.
type Observer func(StepResult)

type Operation struct {
	ctx      context.Context
	tracer   trace.Tracer
	span     trace.Span
	steps    map[string]int
	plan     Plan
	observer Observer
}

// Start opens the root span for operation and records the plan on it.
func Start(ctx context.Context, tracer trace.Tracer, operation string, plan Plan, observer Observer) (*Operation, error) {
	if tracer == nil {
		return nil, fmt.Errorf("start operation: tracer is required")
	}
	steps, err := indexPlan(plan)
	if err != nil {
		return nil, fmt.Errorf("start operation: %w", err)
	}

	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = defaultOperationID
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("start operation: marshal plan: %w", err)
	}
	attrs := trace.WithAttributes(
		attribute.String(PlanVersionKey, PlanVersion),
		attribute.String(PlanJSONKey, string(planJSON)),
	)
	spanCtx, span := tracer.Start(ctx, operation, attrs)
	span.AddEvent(PlanEventName, attrs)

	return &Operation{
		ctx:      spanCtx,
		tracer:   tracer,
		span:     span,
		steps:    steps,
		plan:     plan,
		observer: observer,
	}, nil
}

func (o *Operation) Context() context.Context {
	if o == nil {
		return context.Background()
	}
	return o.ctx
}

// RunStep runs fn under a span named after the planned step id.
func (o *Operation) RunStep(id string, fn func(context.Context) error) error {
	if fn == nil {
		return nil
	}
	stepID := strings.TrimSpace(id)
	if stepID == "" {
		return fmt.Errorf("run step: step id is required")
	}
	if o == nil || o.tracer == nil {
		return fn(context.Background())
	}
	idx, ok := o.steps[stepID]
	if !ok {
		return fmt.Errorf("run step %q: not in plan", stepID)
	}
	step := o.plan.Steps[idx]

	stepCtx, span := o.tracer.Start(o.ctx, stepID, trace.WithAttributes(attribute.String(StepTitleKey, step.Title)))
	defer span.End()

	start := time.Now()
	err := fn(stepCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	if o.observer != nil {
		o.observer(StepResult{Step: step, Index: idx, Total: len(o.plan.Steps), Err: err, Duration: time.Since(start)})
	}
	return err
}

func (o *Operation) End(err error) {
	if o == nil || o.span == nil {
		return
	}
	if err != nil {
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, strings.TrimSpace(err.Error()))
	}
	o.span.End()
}

func indexPlan(plan Plan) (map[string]int, error) {
	index := make(map[string]int, len(plan.Steps))
	for i, step := range plan.Steps {
		stepID := strings.TrimSpace(step.ID)
		if stepID == "" {
			return nil, fmt.Errorf("step %d has empty id", i)
		}
		if _, exists := index[stepID]; exists {
			return nil, fmt.Errorf("duplicate step id %q", stepID)
		}
		index[stepID] = i
	}
	return index, nil
}
