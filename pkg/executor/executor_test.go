package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritas-run/core/pkg/audit"
	"github.com/veritas-run/core/pkg/contracts"
	"github.com/veritas-run/core/pkg/executor"
	"github.com/veritas-run/core/pkg/policy"
	"github.com/veritas-run/core/pkg/verify"
)

// scriptedAgent is a minimal contracts.Agent whose action/resource and
// terminality are fixed at construction, and whose proposal and
// propose-call tracking make the gating invariants observable to tests.
type scriptedAgent struct {
	action, resource     string
	requiredCapabilities []contracts.Capability
	output               contracts.AgentOutput
	terminal             bool
	proposeCalled        bool
}

func (a *scriptedAgent) Propose(state contracts.AgentState, input contracts.AgentInput) (contracts.AgentOutput, error) {
	a.proposeCalled = true
	return a.output, nil
}

func (a *scriptedAgent) Transition(state contracts.AgentState, output contracts.AgentOutput) (contracts.AgentState, error) {
	next := state
	next.Step = state.Step + 1
	return next, nil
}

func (a *scriptedAgent) RequiredCapabilities(state contracts.AgentState, input contracts.AgentInput) []contracts.Capability {
	return a.requiredCapabilities
}

func (a *scriptedAgent) DescribeAction(state contracts.AgentState, input contracts.AgentInput) (string, string) {
	return a.action, a.resource
}

func (a *scriptedAgent) IsTerminal(state contracts.AgentState) bool {
	return a.terminal
}

func freshState() contracts.AgentState {
	return contracts.AgentState{
		AgentId:     "diagnostic-assistant",
		ExecutionId: contracts.NewExecutionId(),
		Phase:       "start",
		Step:        0,
	}
}

func newExecutor(t *testing.T, rulesTOML string, schema contracts.OutputSchema) (*executor.Executor, contracts.AuditWriter) {
	t.Helper()
	eng, err := policy.FromTOMLString(rulesTOML)
	require.NoError(t, err)
	writer := audit.NewInMemoryAuditWriter("")
	ex := executor.New(eng, writer, verify.NewSchemaVerifier(), schema)
	return ex, writer
}

// Scenario 1: allow flow, terminal after one step.
func TestStep_AllowFlow_CompletesAndAudits(t *testing.T) {
	rules := `
[[rules]]
id = "allow-drug-interaction-check"
action = "drug-interaction-check"
resource = "drug-database"
required_capabilities = ["drug-database.read"]
verdict = "allow"
`
	schema := contracts.OutputSchema{
		SchemaID: "drug-check-v1",
		Rules: []contracts.VerificationRule{
			{RuleID: "req-result", RuleType: contracts.RequiredFieldRule{FieldPath: "result"}},
		},
	}
	ex, writer := newExecutor(t, rules, schema)

	agent := &scriptedAgent{
		action:               "drug-interaction-check",
		resource:             "drug-database",
		requiredCapabilities: []contracts.Capability{"drug-database.read"},
		output:               contracts.AgentOutput{Payload: map[string]any{"result": map[string]any{"severity": "HIGH"}}},
		terminal:             true,
	}
	caps := contracts.NewCapabilitySet("drug-database.read")
	state := freshState()

	result, err := ex.Step(context.Background(), agent, state, contracts.AgentInput{Kind: "check"}, caps)
	require.NoError(t, err)

	complete, ok := result.(contracts.Complete)
	require.True(t, ok, "expected Complete, got %T", result)
	assert.EqualValues(t, 1, complete.FinalState.Step)

	events := writer.Events()
	require.Len(t, events, 1)
	assert.EqualValues(t, 0, events[0].Sequence)
	assert.Equal(t, contracts.GenesisHash, events[0].PrevHash)
	assert.NotEqual(t, contracts.GenesisHash, events[0].ThisHash)
	assert.True(t, writer.VerifyIntegrity())
}

// Scenario 2: deny by a no-consent rule; propose never called.
func TestStep_DenyByRule_DoesNotPropose(t *testing.T) {
	rules := `
[[rules]]
id = "deny-patient-query-no-consent"
action = "query"
resource = "patient-records-no-consent"
verdict = "deny"
deny_reason = "patient has not provided consent"
`
	ex, writer := newExecutor(t, rules, contracts.OutputSchema{SchemaID: "noop"})

	agent := &scriptedAgent{action: "query", resource: "patient-records-no-consent", terminal: true}
	result, err := ex.Step(context.Background(), agent, freshState(), contracts.AgentInput{Kind: "query"}, contracts.NewCapabilitySet())
	require.NoError(t, err)

	denied, ok := result.(contracts.Denied)
	require.True(t, ok)
	assert.Equal(t, "patient has not provided consent", denied.Reason)
	assert.False(t, agent.proposeCalled)
	assert.Len(t, writer.Events(), 1)
}

// Scenario 3: the rule allows the query, but the agent requires a
// capability the caller doesn't hold.
func TestStep_MissingCapability_AuditsSyntheticDenialAndErrors(t *testing.T) {
	rules := `
[[rules]]
id = "allow-patient-query"
action = "query"
resource = "patient-records"
verdict = "allow"
`
	ex, writer := newExecutor(t, rules, contracts.OutputSchema{SchemaID: "noop"})

	agent := &scriptedAgent{
		action:               "query",
		resource:             "patient-records",
		requiredCapabilities: []contracts.Capability{"patient-records.read"},
	}
	result, err := ex.Step(context.Background(), agent, freshState(), contracts.AgentInput{Kind: "query"}, contracts.NewCapabilitySet())

	require.Nil(t, result)
	var capErr *contracts.CapabilityMissingError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, contracts.Capability("patient-records.read"), capErr.Capability)
	assert.False(t, agent.proposeCalled)
	assert.Len(t, writer.Events(), 1)
}

// Scenario 4: approval suspension, then resumption with a granted token.
func TestStep_RequireApproval_SuspendsThenResumes(t *testing.T) {
	rules := `
[[rules]]
id = "approve-high-cost-procedure"
action = "propose-procedure"
resource = "high-cost-procedure"
verdict = "require-approval"
approval_reason = "cost exceeds auto-approval threshold"
approver_role = "attending-physician"
`
	ex, writer := newExecutor(t, rules, contracts.OutputSchema{SchemaID: "noop"})

	agent := &scriptedAgent{action: "propose-procedure", resource: "high-cost-procedure", terminal: true}
	state := freshState()
	result, err := ex.Step(context.Background(), agent, state, contracts.AgentInput{Kind: "propose"}, contracts.NewCapabilitySet())
	require.NoError(t, err)

	awaiting, ok := result.(contracts.AwaitingApproval)
	require.True(t, ok)
	assert.Equal(t, "attending-physician", awaiting.ApproverRole)
	assert.EqualValues(t, state.Step, awaiting.SuspendedState.Step)
	assert.Len(t, writer.Events(), 1)

	signer := executor.NewApprovalSigner([]byte("test-secret"), 0)
	token, err := signer.Issue(awaiting.SuspendedState, awaiting.ApproverRole, "dr-alvarez")
	require.NoError(t, err)
	claims, err := signer.Verify(token, awaiting.SuspendedState.ExecutionId.String(), awaiting.SuspendedState.Step, "attending-physician")
	require.NoError(t, err)
	assert.Equal(t, "dr-alvarez", claims.Approver)

	// Resume: a subsequent independent step with an allow rule proceeds.
	rules2 := `
[[rules]]
id = "allow-propose-procedure"
action = "propose-procedure"
resource = "high-cost-procedure"
verdict = "allow"
`
	eng2, err := policy.FromTOMLString(rules2)
	require.NoError(t, err)
	ex2 := executor.New(eng2, writer, verify.NewSchemaVerifier(), contracts.OutputSchema{SchemaID: "noop"})
	agent2 := &scriptedAgent{action: "propose-procedure", resource: "high-cost-procedure", terminal: true}
	result2, err := ex2.Step(context.Background(), agent2, awaiting.SuspendedState, contracts.AgentInput{Kind: executor.ApprovalKind, Payload: token}, contracts.NewCapabilitySet())
	require.NoError(t, err)
	_, ok = result2.(contracts.Complete)
	assert.True(t, ok)
}

// Scenario 5: verification failure produces a typed error with no audit event.
func TestStep_VerificationFailure_NoAuditNoTransition(t *testing.T) {
	rules := `
[[rules]]
id = "allow-anything"
action = "*"
resource = "*"
verdict = "allow"
`
	schema := contracts.OutputSchema{
		Rules: []contracts.VerificationRule{
			{RuleID: "req-recommendation", RuleType: contracts.RequiredFieldRule{FieldPath: "recommendation"}},
		},
	}
	ex, writer := newExecutor(t, rules, schema)

	agent := &scriptedAgent{
		action:   "recommend",
		resource: "treatment-plan",
		output:   contracts.AgentOutput{Payload: map[string]any{"result": map[string]any{}}},
	}
	result, err := ex.Step(context.Background(), agent, freshState(), contracts.AgentInput{Kind: "propose"}, contracts.NewCapabilitySet())

	require.Nil(t, result)
	var verErr *contracts.VerificationFailedError
	require.ErrorAs(t, err, &verErr)
	assert.Contains(t, verErr.Reason, "recommendation")
	assert.Empty(t, writer.Events())
}

// Scenario 6: three consecutive non-terminal steps produce a dense,
// verifiable chain. Tamper-detection itself is exercised directly
// against the writer in pkg/audit's own tests, which have access to the
// unexported event slice; this test only confirms the executor drives
// enough steps to build a multi-event chain that verifies end to end.
func TestStep_MultiStepChain_VerifiesIntegrity(t *testing.T) {
	rules := `
[[rules]]
id = "allow-anything"
action = "*"
resource = "*"
verdict = "allow"
`
	ex, writer := newExecutor(t, rules, contracts.OutputSchema{SchemaID: "noop"})
	agent := &scriptedAgent{action: "step", resource: "loop", output: contracts.AgentOutput{Payload: map[string]any{}}}

	state := freshState()
	for i := 0; i < 3; i++ {
		result, err := ex.Step(context.Background(), agent, state, contracts.AgentInput{Kind: "tick"}, contracts.NewCapabilitySet())
		require.NoError(t, err)
		transitioned, ok := result.(contracts.Transitioned)
		require.True(t, ok)
		state = transitioned.NextState
	}

	events := writer.Events()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.EqualValues(t, i, ev.Sequence)
	}
	assert.True(t, writer.VerifyIntegrity())
}
