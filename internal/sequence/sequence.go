// Package sequence allocates SMPP PDU sequence numbers from a durable
// counter, so numbering resumes across reconnects and process restarts
// instead of resetting.
package sequence

import (
	"context"
	"errors"
	"fmt"
)

// maxSequence is the largest valid SMPP sequence number.
const maxSequence = 0x7FFFFFFF

// ErrUnavailable wraps store failures. Allocation is retryable; no sequence
// number was handed out.
var ErrUnavailable = errors.New("sequence store unavailable")

// Store is a durable atomic counter keyed by partition. The first increment
// of a fresh counter returns 1.
type Store interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Allocator hands out sequence numbers for one partition. Distinct binds
// use distinct partition keys and never share a counter.
type Allocator struct {
	store Store
	key   string
}

// NewAllocator creates an allocator over the given partition key.
func NewAllocator(store Store, partitionKey string) *Allocator {
	return &Allocator{
		store: store,
		key:   "sequence:" + partitionKey,
	}
}

// Key returns the full store key the allocator increments.
func (a *Allocator) Key() string {
	return a.key
}

// Next advances the durable counter and returns the resulting sequence
// number. The counter is persisted before the number is returned; on store
// failure no PDU may be sent with a speculative number.
func (a *Allocator) Next(ctx context.Context) (int32, error) {
	v, err := a.store.Incr(ctx, a.key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return FromCounter(v), nil
}

// FromCounter maps a monotonic counter value (first value 1) onto the
// 1..0x7FFFFFFF sequence cycle. 0x7FFFFFFF wraps back to 1 with no counter
// reset, so concurrent allocations never race a reset write.
func FromCounter(v int64) int32 {
	return int32((v-1)%maxSequence) + 1
}
