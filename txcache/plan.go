package txcache

import (
	"sync"
	"time"

	"github.com/goliatone/go-repository-txcache/cache"
)

// Plan is one cache mutation waiting for the transaction outcome. A plan with
// a zero Key is a flush marker asking for its namespace to be cleared.
type Plan struct {
	Namespace   string
	StatementID string
	Cache       cache.Cache
	Key         cache.Key
	Value       any
	Created     time.Time
	// Valid plans are written on commit. Superseded plans and flush markers
	// are invalid.
	Valid bool
	// Tag dedupes clears within one drain.
	Tag string
}

// IsFlush reports whether p is a namespace wide clear.
func (p *Plan) IsFlush() bool {
	return p.Key.IsZero()
}

// Buffer is the ordered sequence of plans of one transaction. For any
// (namespace, key) at most one plan is valid.
type Buffer struct {
	mu    sync.Mutex
	plans []*Plan
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Push appends p and invalidates what it supersedes. A flush marker
// invalidates every valid plan of its namespace; a keyed plan invalidates the
// previous valid plan for the same key.
func (b *Buffer) Push(p *Plan) {
	b.mu.Lock()
	defer b.mu.Unlock()

	flush := p.IsFlush()
	if flush {
		p.Valid = false
	}
	if p.Tag == "" {
		p.Tag = p.Namespace
	}

	for i := len(b.plans) - 1; i >= 0; i-- {
		prev := b.plans[i]
		if !prev.Valid || prev.Namespace != p.Namespace {
			continue
		}
		if flush {
			prev.Valid = false
			continue
		}
		if prev.Key == p.Key {
			prev.Valid = false
			break
		}
	}

	b.plans = append(b.plans, p)
}

// Lookup returns the value of the valid plan for (namespace, statementID,
// key). flushed is true when a flush marker of the namespace is pending, in
// which case the backing cache must not be trusted for this namespace.
func (b *Buffer) Lookup(namespace, statementID string, key cache.Key) (value any, found, flushed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(b.plans) - 1; i >= 0; i-- {
		p := b.plans[i]
		if p.Namespace != namespace {
			continue
		}
		if p.IsFlush() {
			flushed = true
			continue
		}
		if !found && p.Valid && p.StatementID == statementID && p.Key == key {
			value, found = p.Value, true
		}
	}
	return value, found, flushed
}

// Drain empties the buffer and returns its plans in push order.
func (b *Buffer) Drain() []*Plan {
	b.mu.Lock()
	defer b.mu.Unlock()

	plans := b.plans
	b.plans = nil
	return plans
}

// Len returns the number of plans, valid or not.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.plans)
}

// Valid returns the number of valid plans.
func (b *Buffer) Valid() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, p := range b.plans {
		if p.Valid {
			n++
		}
	}
	return n
}
