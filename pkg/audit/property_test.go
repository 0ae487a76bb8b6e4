package audit

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMutatingAnyEventBreaksVerification covers spec.md §8's tamper
// property for the record's step field: mutating it in any event of a
// non-empty chain must make VerifyIntegrity report false, no matter which
// event or how many events precede or follow it.
func TestMutatingAnyEventBreaksVerification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("mutating step of any event in the chain fails verification", prop.ForAll(
		func(length, mutateIndex int) bool {
			mutateIndex = mutateIndex % length

			w := NewInMemoryAuditWriter("exec-prop")
			for i := 0; i < length; i++ {
				if err := w.Write(makeRecord(uint64(i))); err != nil {
					return false
				}
			}
			if !w.VerifyIntegrity() {
				return false
			}

			w.events[mutateIndex].Record.Step = w.events[mutateIndex].Record.Step + 1000
			return !w.VerifyIntegrity()
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
