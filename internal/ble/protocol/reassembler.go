package protocol

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Reassembly errors. Callers log them; none of them change pending state.
var (
	ErrMalformedChunk = errors.New("protocol: malformed chunk")
	ErrDuplicateChunk = errors.New("protocol: duplicate chunk")
	ErrTotalMismatch  = errors.New("protocol: chunk total disagrees with first chunk")
)

// ReassemblerOptions bounds the memory held by partially received messages.
type ReassemblerOptions struct {
	MaxPending int           // max messages in flight; least recently touched is evicted
	TTL        time.Duration // age after which a stalled message is dropped; <= 0 keeps it forever
}

// DefaultReassemblerOptions returns sensible defaults.
func DefaultReassemblerOptions() ReassemblerOptions {
	return ReassemblerOptions{
		MaxPending: 64,
		TTL:        30 * time.Second,
	}
}

// pendingMessage holds the chunks seen so far. Slots are sparse: total comes
// from the peer and is never used as an allocation size.
type pendingMessage struct {
	total    int
	chunks   map[int]string
	received int
	started  time.Time
	done     bool
}

// Reassembler collects chunk fragments keyed by message id and yields the
// full message once every index has arrived. Safe for concurrent use.
type Reassembler struct {
	mu      sync.Mutex
	pending *lru.Cache[string, *pendingMessage]
	ttl     time.Duration
	now     func() time.Time
}

// NewReassembler creates a Reassembler.
func NewReassembler(opts ReassemblerOptions) *Reassembler {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 64
	}
	if opts.TTL < 0 {
		opts.TTL = 0
	}
	cache, err := lru.NewWithEvict[string, *pendingMessage](opts.MaxPending, func(id string, msg *pendingMessage) {
		if msg.done {
			return
		}
		slog.Warn("[BLE] dropping incomplete chunked message",
			"id", id, "received", msg.received, "total", msg.total)
	})
	if err != nil {
		// Only reachable with a non-positive size, which is clamped above.
		panic(fmt.Sprintf("protocol: create pending cache: %v", err))
	}
	return &Reassembler{
		pending: cache,
		ttl:     opts.TTL,
		now:     time.Now,
	}
}

// Ingest stores one chunk. It returns the reassembled message and true when
// the chunk completes its message, and ("", false, nil) while still waiting.
// A chunk that is malformed, duplicated, or disagrees with the total of its
// message's first chunk is rejected with an error and leaves state untouched.
func (r *Reassembler) Ingest(c Chunk) (string, bool, error) {
	if c.Data == nil {
		return "", false, fmt.Errorf("%w: chunk %d/%d of %q has no data", ErrMalformedChunk, c.Index+1, c.Total, c.ID)
	}
	if c.ID == "" || c.Total < 1 || c.Index < 0 || c.Index >= c.Total {
		return "", false, fmt.Errorf("%w: id=%q index=%d total=%d", ErrMalformedChunk, c.ID, c.Index, c.Total)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweep()

	msg, ok := r.pending.Get(c.ID)
	if !ok {
		msg = &pendingMessage{
			total:   c.Total,
			chunks:  make(map[int]string, 1),
			started: r.now(),
		}
		r.pending.Add(c.ID, msg)
	} else if msg.total != c.Total {
		return "", false, fmt.Errorf("%w: %q expects %d chunks, got total=%d", ErrTotalMismatch, c.ID, msg.total, c.Total)
	}

	if _, dup := msg.chunks[c.Index]; dup {
		return "", false, fmt.Errorf("%w: %q index %d", ErrDuplicateChunk, c.ID, c.Index)
	}
	msg.chunks[c.Index] = *c.Data
	msg.received++

	if msg.received < msg.total {
		return "", false, nil
	}

	msg.done = true
	r.pending.Remove(c.ID)

	var b strings.Builder
	for i := range msg.total {
		b.WriteString(msg.chunks[i])
	}
	return b.String(), true, nil
}

// Len returns the number of messages still waiting for chunks.
func (r *Reassembler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending.Len()
}

// Progress reports how many chunks of message id have arrived.
func (r *Reassembler) Progress(id string) (received, total int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.pending.Peek(id)
	if !ok {
		return 0, 0, false
	}
	return msg.received, msg.total, true
}

// Reset drops every pending message, e.g. when the link that carried them is gone.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending.Purge()
}

// sweep evicts messages older than the TTL (caller must hold mu).
func (r *Reassembler) sweep() {
	if r.ttl <= 0 {
		return
	}
	cutoff := r.now().Add(-r.ttl)
	for _, id := range r.pending.Keys() {
		msg, ok := r.pending.Peek(id)
		if ok && msg.started.Before(cutoff) {
			r.pending.Remove(id)
		}
	}
}
