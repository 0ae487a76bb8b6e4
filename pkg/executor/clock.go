package executor

import "time"

// monotonicNow is the executor's sole time source, used both for
// StepRecord.Timestamp and for measuring step latency. It is never
// consulted for control flow. Tests may override this var to produce
// deterministic StepRecord timestamps.
var monotonicNow = func() time.Time { return time.Now().UTC() }
