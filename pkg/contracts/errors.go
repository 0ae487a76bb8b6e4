package contracts

import "fmt"

// PolicyDeniedError carries a denial reason as a Go error. Executor.Step
// does not return it (a policy Deny is reported as the Denied result);
// ApprovalSigner.Verify returns it for an invalid or mismatched approval
// token.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied action: %s", e.Reason)
}

// CapabilityMissingError is returned when an agent requires a capability
// the caller did not grant. The executor audits this as a synthetic
// denial before returning the error; Agent.Propose is never called.
type CapabilityMissingError struct {
	Capability Capability
	Action     string
}

func (e *CapabilityMissingError) Error() string {
	return fmt.Sprintf("capability '%s' required for action '%s' is not granted", e.Capability, e.Action)
}

// VerificationFailedError is returned when the output verifier rejects a
// proposed output. Unlike policy denial, a verification failure is never
// audited: the step never completed.
type VerificationFailedError struct {
	Reason string
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("output verification failed: %s", e.Reason)
}

// AuditWriteError is returned when the audit writer itself fails. This
// is always fatal to the step: without a successful audit write there is
// no record of what happened.
type AuditWriteError struct {
	Reason string
}

func (e *AuditWriteError) Error() string {
	return fmt.Sprintf("audit write failed: %s", e.Reason)
}

// StateMachineError is returned when an agent's Transition violates the
// state machine contract (for example, failing to increment Step by
// exactly one).
type StateMachineError struct {
	Reason string
}

func (e *StateMachineError) Error() string {
	return fmt.Sprintf("state machine error: %s", e.Reason)
}

// ConfigError is returned when a policy bundle, schema, or other
// configuration input is malformed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// SchemaValidationError names a malformed JSON Schema document. No
// function in this module returns it: SchemaVerifier.Verify reports a
// schema that fails to compile as a "json-schema" failure in its report.
type SchemaValidationError struct {
	Reason string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation error: %s", e.Reason)
}
