// Package executor drives one agent execution as a deterministic state
// machine. An Executor is bound to exactly one Agent and one execution's
// collaborators (PolicyEngine, AuditWriter, Verifier); Step advances the
// execution by exactly one step and blocks until the pipeline has either
// completed, paused, or failed.
//
// The nine-phase ordering — Describe, Policy, Capability check, Propose,
// Verify, Transition, Audit, Terminal check, Return — is fixed and
// unconditional. Agent.Propose has exactly one call site in this file,
// reached only after the policy and capability checks have both
// succeeded for the current step.
package executor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/veritas-run/core/pkg/contracts"
)

const instrumentationName = "github.com/veritas-run/core/pkg/executor"

// Executor drives one execution's step pipeline. It owns Policy, Audit,
// and Verify for the lifetime of the execution; the Agent is borrowed
// per step.
type Executor struct {
	policy   contracts.PolicyEngine
	audit    contracts.AuditWriter
	verifier contracts.Verifier
	schema   contracts.OutputSchema

	tracer trace.Tracer
	steps  metric.Int64Counter
	dur    metric.Float64Histogram
}

// Option configures an Executor at construction.
type Option func(*Executor)

// WithTracerProvider overrides the OpenTelemetry TracerProvider used for
// per-step spans. Defaults to the global provider (a no-op unless the
// host has installed one).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) { e.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider overrides the OpenTelemetry MeterProvider used for
// step-count and step-latency instruments. Defaults to the global
// provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	meter := mp.Meter(instrumentationName)
	steps, _ := meter.Int64Counter("executor.steps", metric.WithDescription("steps processed, by outcome"))
	dur, _ := meter.Float64Histogram("executor.step.duration", metric.WithDescription("step latency in seconds"), metric.WithUnit("s"))
	return func(e *Executor) {
		e.steps = steps
		e.dur = dur
	}
}

// New builds an Executor for one execution's collaborators. schema is
// the OutputSchema every step's proposed output is verified against.
func New(policy contracts.PolicyEngine, audit contracts.AuditWriter, verifier contracts.Verifier, schema contracts.OutputSchema, opts ...Option) *Executor {
	e := &Executor{
		policy:   policy,
		audit:    audit,
		verifier: verifier,
		schema:   schema,
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.steps == nil || e.dur == nil {
		WithMeterProvider(otel.GetMeterProvider())(e)
	}
	return e
}

// Step advances state by exactly one step, given input and the
// capabilities held by the caller for this step. It returns exactly one
// of the four contracts.StepResult variants, or a typed error from
// contracts if the pipeline could not complete the step.
func (e *Executor) Step(ctx context.Context, agent contracts.Agent, state contracts.AgentState, input contracts.AgentInput, capabilities contracts.CapabilitySet) (contracts.StepResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.step", trace.WithAttributes(
		attribute.String("execution_id", state.ExecutionId.String()),
		attribute.Int64("step", int64(state.Step)),
	))
	defer span.End()

	start := monotonicNow()
	result, err := e.step(ctx, agent, state, input, capabilities)

	outcome := outcomeTag(result, err)
	span.SetAttributes(attribute.String("outcome", outcome))
	if e.steps != nil {
		e.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	if e.dur != nil {
		e.dur.Record(ctx, monotonicNow().Sub(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (e *Executor) step(ctx context.Context, agent contracts.Agent, state contracts.AgentState, input contracts.AgentInput, capabilities contracts.CapabilitySet) (contracts.StepResult, error) {
	// Phase 1: Describe. Opaque tags only; no effect is performed.
	action, resource := agent.DescribeAction(state, input)

	// Phase 2: Policy. Metadata is left nil; the executor carries no
	// side-channel for it, so a CEL condition's metadata variable is
	// always null on this path.
	pctx := contracts.PolicyContext{
		AgentId:      string(state.AgentId),
		ExecutionId:  state.ExecutionId.String(),
		CurrentPhase: state.Phase,
		Action:       action,
		Resource:     resource,
		Capabilities: capabilities.Strings(),
	}
	verdict, err := e.policy.Evaluate(pctx)
	if err != nil {
		return nil, &contracts.StateMachineError{Reason: fmt.Sprintf("policy evaluation failed: %v", err)}
	}

	switch v := verdict.(type) {
	case contracts.DenyVerdict:
		if werr := e.audit.Write(recordFor(state, input, verdict, nil)); werr != nil {
			return nil, &contracts.AuditWriteError{Reason: werr.Error()}
		}
		return contracts.Denied{Reason: v.Reason, FinalState: state}, nil

	case contracts.RequireApprovalVerdict:
		if werr := e.audit.Write(recordFor(state, input, verdict, nil)); werr != nil {
			return nil, &contracts.AuditWriteError{Reason: werr.Error()}
		}
		return contracts.AwaitingApproval{Reason: v.Reason, ApproverRole: v.ApproverRole, SuspendedState: state}, nil

	case contracts.AllowVerdict, contracts.RequireVerificationVerdict:
		// proceed

	default:
		return nil, &contracts.StateMachineError{Reason: fmt.Sprintf("unknown policy verdict %T", verdict)}
	}

	// Phase 3: Capability check. Propose is not reachable past this
	// point unless every required capability is held.
	for _, cap := range agent.RequiredCapabilities(state, input) {
		if !capabilities.Has(cap) {
			denial := contracts.DenyVerdict{Reason: fmt.Sprintf("capability '%s' required for action '%s' is not granted", cap, action)}
			if werr := e.audit.Write(recordFor(state, input, denial, nil)); werr != nil {
				return nil, &contracts.AuditWriteError{Reason: werr.Error()}
			}
			return nil, &contracts.CapabilityMissingError{Capability: cap, Action: action}
		}
	}

	// Phase 4: Propose. The only call site of Agent.Propose in the core.
	output, err := agent.Propose(state, input)
	if err != nil {
		return nil, &contracts.StateMachineError{Reason: fmt.Sprintf("agent propose failed: %v", err)}
	}

	// Phase 5: Verify. No audit precedes a successful verification.
	report, err := e.verifier.Verify(output, e.schema)
	if err != nil {
		return nil, &contracts.StateMachineError{Reason: fmt.Sprintf("verifier failed: %v", err)}
	}
	if !report.Passed {
		return nil, &contracts.VerificationFailedError{Reason: failureSummary(report)}
	}

	// Phase 6: Transition.
	nextState, err := agent.Transition(state, output)
	if err != nil {
		return nil, &contracts.StateMachineError{Reason: fmt.Sprintf("agent transition failed: %v", err)}
	}
	if nextState.Step != state.Step+1 {
		return nil, &contracts.StateMachineError{Reason: fmt.Sprintf("transition must advance step by exactly one: got %d -> %d", state.Step, nextState.Step)}
	}

	// Phase 7: Audit. A write failure here is fatal.
	record := recordFor(state, input, verdict, &output)
	if werr := e.audit.Write(record); werr != nil {
		return nil, &contracts.AuditWriteError{Reason: werr.Error()}
	}

	// Phase 8: Terminal check.
	if agent.IsTerminal(nextState) {
		if ferr := e.audit.Finalize(); ferr != nil {
			return nil, &contracts.AuditWriteError{Reason: ferr.Error()}
		}
		return contracts.Complete{FinalState: nextState, Output: output}, nil
	}

	// Phase 9: Return, non-terminal.
	return contracts.Transitioned{NextState: nextState, Output: output}, nil
}

func recordFor(state contracts.AgentState, input contracts.AgentInput, verdict contracts.PolicyVerdict, output *contracts.AgentOutput) contracts.StepRecord {
	return contracts.StepRecord{
		Step:      state.Step,
		Input:     input,
		Verdict:   verdict,
		Output:    output,
		Timestamp: monotonicNow(),
	}
}

func failureSummary(report contracts.VerificationReport) string {
	if len(report.Failures) == 0 {
		return "verification failed"
	}
	msg := report.Failures[0].Message
	for _, f := range report.Failures[1:] {
		msg += "; " + f.Message
	}
	return msg
}

func outcomeTag(result contracts.StepResult, err error) string {
	if err != nil {
		switch err.(type) {
		case *contracts.CapabilityMissingError:
			return "capability_missing"
		case *contracts.VerificationFailedError:
			return "verification_failed"
		case *contracts.AuditWriteError:
			return "audit_write_failed"
		default:
			return "error"
		}
	}
	switch result.(type) {
	case contracts.Denied:
		return "deny"
	case contracts.AwaitingApproval:
		return "require_approval"
	case contracts.Complete:
		return "complete"
	default:
		return "allow"
	}
}
