package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"signals/internal/questionnaire/models"
	dErrors "signals/pkg/domain-errors"
)

// Tx provides a transactional boundary for store mutations. Implementations
// wrap a database transaction or, in memory, a per-session lock.
type Tx interface {
	RunInTx(ctx context.Context, fn func(store Store) error) error
}

// Operations on the same session hash to the same shard; unrelated sessions
// rarely contend.
const numSessionShards = 128

const defaultTxTimeout = 5 * time.Second

type shardedSessionTx struct {
	shards  [numSessionShards]sync.Mutex
	store   Store
	timeout time.Duration
}

// NewMemoryTx serializes transactions per session id over an in-memory store.
func NewMemoryTx(store Store) Tx {
	return &shardedSessionTx{store: store}
}

func (t *shardedSessionTx) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := t.selectShard(ctx)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(t.store)
}

// selectShard picks a shard from the session id in context, or shard 0.
func (t *shardedSessionTx) selectShard(ctx context.Context) int {
	if key, ok := ctx.Value(txSessionKeyCtx).(string); ok && key != "" {
		h := fnv.New32a()
		_, _ = h.Write([]byte(key))
		return int(h.Sum32() % numSessionShards)
	}
	return 0
}

type txSessionKey struct{}

var txSessionKeyCtx = txSessionKey{}

// withSessionKey tells the memory transaction which shard to lock.
func withSessionKey(ctx context.Context, id models.SessionID) context.Context {
	return context.WithValue(ctx, txSessionKeyCtx, id.String())
}
