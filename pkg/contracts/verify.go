package contracts

// OutputSchema describes how to check one agent's output: an optional
// structural JSON Schema (Phase 1) and zero or more semantic rules
// (Phase 2), evaluated independently of one another.
type OutputSchema struct {
	SchemaID   string             `json:"schema_id"`
	JSONSchema any                `json:"json_schema,omitempty"`
	Rules      []VerificationRule `json:"rules,omitempty"`
}

// VerificationRule pairs a human-readable description with exactly one
// VerificationRuleType.
type VerificationRule struct {
	RuleID      string               `json:"rule_id"`
	Description string               `json:"description"`
	RuleType    VerificationRuleType `json:"rule_type"`
}

// VerificationRuleType is a closed sum type over the four semantic check
// kinds Phase 2 supports.
type VerificationRuleType interface {
	sealedVerificationRuleType()
}

// RequiredFieldRule fails unless FieldPath resolves to a non-null value.
type RequiredFieldRule struct {
	FieldPath string `json:"field_path"`
}

func (RequiredFieldRule) sealedVerificationRuleType() {}

// AllowedValuesRule fails unless FieldPath resolves to a value deep-equal
// to one member of Allowed.
type AllowedValuesRule struct {
	FieldPath string `json:"field_path"`
	Allowed   []any  `json:"allowed"`
}

func (AllowedValuesRule) sealedVerificationRuleType() {}

// ForbiddenPatternRule fails only when FieldPath resolves to a string
// that contains Pattern as a substring. A missing field or a non-string
// value passes.
type ForbiddenPatternRule struct {
	FieldPath string `json:"field_path"`
	Pattern   string `json:"pattern"`
}

func (ForbiddenPatternRule) sealedVerificationRuleType() {}

// CustomRule delegates to a named function registered on the Verifier.
// An unregistered FunctionName is itself a verification failure.
type CustomRule struct {
	FunctionName string `json:"function_name"`
}

func (CustomRule) sealedVerificationRuleType() {}

// VerificationFailure names the rule that failed and why.
type VerificationFailure struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

// VerificationReport accumulates every failure from both phases; it
// never short-circuits on the first one.
type VerificationReport struct {
	Passed   bool                  `json:"passed"`
	Failures []VerificationFailure `json:"failures"`
}

// Verifier checks a proposed AgentOutput against an OutputSchema.
type Verifier interface {
	Verify(output AgentOutput, schema OutputSchema) (VerificationReport, error)
}

// CustomVerifierFunc is a host-registered Phase-2 Custom rule function.
// It returns a non-empty failure message when the output fails the
// check, or an empty string when it passes.
type CustomVerifierFunc func(output AgentOutput) string
