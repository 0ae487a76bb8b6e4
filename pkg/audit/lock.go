package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/veritas-run/core/pkg/contracts"
)

// unlockScript releases the lease only if it is still held by the token
// that acquired it, so a slow writer can never release a lease another
// process has since taken over after expiry.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// DistributedLock serializes audit writes to one execution id's chain
// across multiple OS processes sharing a Redis instance. It wraps an
// existing AuditWriter and is otherwise a drop-in contracts.AuditWriter.
type DistributedLock struct {
	inner   contracts.AuditWriter
	client  *redis.Client
	key     string
	lease   time.Duration
	waitFor time.Duration
	retry   time.Duration
	localMu sync.Mutex
}

// WithDistributedLock wraps inner so that every Write acquires a Redis
// lease named by executionID before delegating, and releases it
// immediately afterward. Write retries acquisition for up to waitFor
// before giving up, so a writer racing another process's held lease
// blocks rather than dropping the step.
func WithDistributedLock(inner contracts.AuditWriter, client *redis.Client, executionID string, lease, waitFor time.Duration) *DistributedLock {
	if lease <= 0 {
		lease = 10 * time.Second
	}
	if waitFor <= 0 {
		waitFor = lease
	}
	return &DistributedLock{
		inner:   inner,
		client:  client,
		key:     fmt.Sprintf("veritas:audit-lock:%s", executionID),
		lease:   lease,
		waitFor: waitFor,
		retry:   50 * time.Millisecond,
	}
}

// acquire retries SetNX until it succeeds, ctx is cancelled, or waitFor
// has elapsed, so contention on another process's lease serializes
// writes instead of failing the step outright.
func (d *DistributedLock) acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(d.waitFor)
	for {
		ok, err := d.client.SetNX(ctx, d.key, token, d.lease).Result()
		if err != nil {
			return "", &contracts.AuditWriteError{Reason: fmt.Sprintf("acquiring distributed audit lock: %v", err)}
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", &contracts.AuditWriteError{Reason: "timed out waiting for audit lock held by another process"}
		}
		select {
		case <-ctx.Done():
			return "", &contracts.AuditWriteError{Reason: fmt.Sprintf("acquiring distributed audit lock: %v", ctx.Err())}
		case <-time.After(d.retry):
		}
	}
}

func (d *DistributedLock) release(ctx context.Context, token string) {
	unlockScript.Run(ctx, d.client, []string{d.key}, token)
}

// Write acquires the distributed lease, delegates to the wrapped writer,
// and releases the lease before returning.
func (d *DistributedLock) Write(record contracts.StepRecord) error {
	d.localMu.Lock()
	defer d.localMu.Unlock()

	ctx := context.Background()
	token, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer d.release(ctx, token)

	return d.inner.Write(record)
}

func (d *DistributedLock) Finalize() error                { return d.inner.Finalize() }
func (d *DistributedLock) Events() []contracts.AuditEvent { return d.inner.Events() }
func (d *DistributedLock) VerifyIntegrity() bool          { return d.inner.VerifyIntegrity() }
func (d *DistributedLock) Export() contracts.AuditLog     { return d.inner.Export() }

var _ contracts.AuditWriter = (*DistributedLock)(nil)
