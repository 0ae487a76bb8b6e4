// Package verify implements the two-phase output verifier: a structural
// JSON Schema check followed by a set of declarative semantic rules.
// Neither phase short-circuits on the first failure — every failure from
// both phases is accumulated into the returned report.
package verify

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veritas-run/core/pkg/contracts"
)

// SchemaVerifier is the reference contracts.Verifier implementation.
// Custom rule functions must be registered before a schema referencing
// them is verified; an unregistered function name is itself a failure,
// not a panic.
type SchemaVerifier struct {
	mu          sync.RWMutex
	customRules map[string]contracts.CustomVerifierFunc
}

// NewSchemaVerifier returns a verifier with no custom rules registered.
func NewSchemaVerifier() *SchemaVerifier {
	return &SchemaVerifier{customRules: make(map[string]contracts.CustomVerifierFunc)}
}

// RegisterRule makes fn available to any OutputSchema rule of type
// CustomRule naming it.
func (v *SchemaVerifier) RegisterRule(name string, fn contracts.CustomVerifierFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.customRules[name] = fn
}

// Verify runs Phase 1 (structural) then Phase 2 (semantic) checks
// against output, accumulating every failure from both phases.
func (v *SchemaVerifier) Verify(output contracts.AgentOutput, schema contracts.OutputSchema) (contracts.VerificationReport, error) {
	var failures []contracts.VerificationFailure

	failures = append(failures, v.verifyStructural(output, schema)...)
	failures = append(failures, v.verifySemantic(output, schema)...)

	return contracts.VerificationReport{
		Passed:   len(failures) == 0,
		Failures: failures,
	}, nil
}

func (v *SchemaVerifier) verifyStructural(output contracts.AgentOutput, schema contracts.OutputSchema) []contracts.VerificationFailure {
	if schema.JSONSchema == nil {
		return nil
	}

	raw, err := json.Marshal(schema.JSONSchema)
	if err != nil {
		return []contracts.VerificationFailure{{
			RuleID:  "json-schema",
			Message: fmt.Sprintf("invalid JSON Schema document: %v", err),
		}}
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	const resourceURL = "mem://output-schema.json"
	if err := compiler.AddResource(resourceURL, strings.NewReader(string(raw))); err != nil {
		return []contracts.VerificationFailure{{
			RuleID:  "json-schema",
			Message: fmt.Sprintf("invalid JSON Schema document: %v", err),
		}}
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return []contracts.VerificationFailure{{
			RuleID:  "json-schema",
			Message: fmt.Sprintf("invalid JSON Schema document: %v", err),
		}}
	}

	instance, err := toInstance(output.Payload)
	if err != nil {
		return []contracts.VerificationFailure{{
			RuleID:  "json-schema",
			Message: fmt.Sprintf("output payload could not be prepared for validation: %v", err),
		}}
	}

	if err := compiled.Validate(instance); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return collectValidationFailures(ve)
		}
		return []contracts.VerificationFailure{{
			RuleID:  "json-schema",
			Message: fmt.Sprintf("JSON Schema violation: %v", err),
		}}
	}
	return nil
}

func collectValidationFailures(ve *jsonschema.ValidationError) []contracts.VerificationFailure {
	var out []contracts.VerificationFailure
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, contracts.VerificationFailure{
				RuleID:  "json-schema",
				Message: fmt.Sprintf("JSON Schema violation at %s: %s", e.InstanceLocation, e.Message),
			})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func (v *SchemaVerifier) verifySemantic(output contracts.AgentOutput, schema contracts.OutputSchema) []contracts.VerificationFailure {
	var failures []contracts.VerificationFailure
	for _, rule := range schema.Rules {
		if msg := v.evaluateRule(output, rule); msg != "" {
			failures = append(failures, contracts.VerificationFailure{RuleID: rule.RuleID, Message: msg})
		}
	}
	return failures
}

func (v *SchemaVerifier) evaluateRule(output contracts.AgentOutput, rule contracts.VerificationRule) string {
	switch t := rule.RuleType.(type) {
	case contracts.RequiredFieldRule:
		if _, ok := resolvePath(output.Payload, t.FieldPath); !ok {
			return fmt.Sprintf("required field '%s' is missing or null", t.FieldPath)
		}
		return ""

	case contracts.AllowedValuesRule:
		val, ok := resolvePath(output.Payload, t.FieldPath)
		if !ok {
			return fmt.Sprintf("required field '%s' is missing or null", t.FieldPath)
		}
		for _, allowed := range t.Allowed {
			if reflect.DeepEqual(val, allowed) {
				return ""
			}
		}
		return fmt.Sprintf("field '%s' has value %v which is not in the allowed set", t.FieldPath, val)

	case contracts.ForbiddenPatternRule:
		val, ok := resolvePath(output.Payload, t.FieldPath)
		if !ok {
			return ""
		}
		s, ok := val.(string)
		if !ok {
			return ""
		}
		if strings.Contains(s, t.Pattern) {
			return fmt.Sprintf("field '%s' contains forbidden pattern '%s'", t.FieldPath, t.Pattern)
		}
		return ""

	case contracts.CustomRule:
		v.mu.RLock()
		fn, ok := v.customRules[t.FunctionName]
		v.mu.RUnlock()
		if !ok {
			return fmt.Sprintf("no custom rule registered for function name '%s'", t.FunctionName)
		}
		return fn(output)

	default:
		return fmt.Sprintf("unknown verification rule type %T", t)
	}
}

// resolvePath walks a dot-separated field path through a decoded JSON
// value. It returns (value, true) only when every segment resolves to a
// present, non-null value.
func resolvePath(root any, path string) (any, bool) {
	current := root
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, present := m[segment]
		if !present || val == nil {
			return nil, false
		}
		current = val
	}
	return current, true
}

// toInstance normalizes an arbitrary Go value into the map/slice/scalar
// shape jsonschema.Validate expects, by round-tripping through JSON.
func toInstance(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, err
	}
	return instance, nil
}

var _ contracts.Verifier = (*SchemaVerifier)(nil)
