package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyDeniedErrorDisplay(t *testing.T) {
	err := &PolicyDeniedError{Reason: "no access"}
	assert.Contains(t, err.Error(), "policy denied action")
	assert.Contains(t, err.Error(), "no access")
}

func TestCapabilityMissingErrorDisplay(t *testing.T) {
	err := &CapabilityMissingError{Capability: "phi:write", Action: "update_record"}
	assert.Contains(t, err.Error(), "phi:write")
	assert.Contains(t, err.Error(), "update_record")
}

func TestVerificationFailedErrorDisplay(t *testing.T) {
	err := &VerificationFailedError{Reason: "[rule-1] field missing"}
	assert.Contains(t, err.Error(), "output verification failed")
	assert.Contains(t, err.Error(), "rule-1")
}

func TestAuditWriteErrorDisplay(t *testing.T) {
	err := &AuditWriteError{Reason: "disk full"}
	assert.Contains(t, err.Error(), "audit write failed")
}

func TestStateMachineErrorDisplay(t *testing.T) {
	err := &StateMachineError{Reason: "step did not advance"}
	assert.Contains(t, err.Error(), "state machine error")
}

func TestConfigErrorDisplay(t *testing.T) {
	err := &ConfigError{Reason: "bad toml"}
	assert.Contains(t, err.Error(), "configuration error")
}

func TestSchemaValidationErrorDisplay(t *testing.T) {
	err := &SchemaValidationError{Reason: "invalid draft"}
	assert.Contains(t, err.Error(), "schema validation error")
}
