package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func chunk(id string, index, total int, data string) Chunk {
	return Chunk{ID: id, Index: index, Total: total, Data: strPtr(data)}
}

func TestReassemblerOutOfOrder(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())

	msg, complete, err := r.Ingest(chunk("m1", 1, 2, "World"))
	if err != nil || complete {
		t.Fatalf("first Ingest() = %q, %v, %v; want waiting", msg, complete, err)
	}
	msg, complete, err = r.Ingest(chunk("m1", 0, 2, "Hello"))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !complete {
		t.Fatal("message should be complete after both chunks")
	}
	if msg != "HelloWorld" {
		t.Errorf("message = %q, want %q", msg, "HelloWorld")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after completion", r.Len())
	}
}

func TestReassemblerEveryPermutation(t *testing.T) {
	parts := []string{"a", "bb", "ccc", "dddd"}
	want := strings.Join(parts, "")

	var permute func([]int, int)
	var orders [][]int
	permute = func(idx []int, k int) {
		if k == len(idx) {
			orders = append(orders, append([]int(nil), idx...))
			return
		}
		for i := k; i < len(idx); i++ {
			idx[k], idx[i] = idx[i], idx[k]
			permute(idx, k+1)
			idx[k], idx[i] = idx[i], idx[k]
		}
	}
	permute([]int{0, 1, 2, 3}, 0)

	for _, order := range orders {
		r := NewReassembler(DefaultReassemblerOptions())
		completions := 0
		var got string
		for _, i := range order {
			msg, complete, err := r.Ingest(chunk("p", i, len(parts), parts[i]))
			if err != nil {
				t.Fatalf("order %v: Ingest(%d) error = %v", order, i, err)
			}
			if complete {
				completions++
				got = msg
			}
		}
		if completions != 1 {
			t.Errorf("order %v: %d completions, want exactly 1", order, completions)
		}
		if got != want {
			t.Errorf("order %v: message = %q, want %q", order, got, want)
		}
	}
}

func TestReassemblerSingleChunk(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())
	msg, complete, err := r.Ingest(chunk("solo", 0, 1, `{"type":"response","text":"hi"}`))
	if err != nil || !complete {
		t.Fatalf("Ingest() = %v, %v; want complete", complete, err)
	}
	if msg != `{"type":"response","text":"hi"}` {
		t.Errorf("message = %q", msg)
	}
}

func TestReassemblerDuplicateIgnored(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())

	if _, _, err := r.Ingest(chunk("d", 0, 3, "x")); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	_, complete, err := r.Ingest(chunk("d", 0, 3, "y"))
	if !errors.Is(err, ErrDuplicateChunk) {
		t.Errorf("duplicate Ingest() error = %v, want ErrDuplicateChunk", err)
	}
	if complete {
		t.Error("duplicate must not complete the message")
	}
	received, total, ok := r.Progress("d")
	if !ok || received != 1 || total != 3 {
		t.Errorf("Progress() = %d/%d ok=%v, want 1/3", received, total, ok)
	}

	// Remaining chunks still complete with the first copy of index 0.
	r.Ingest(chunk("d", 1, 3, "1"))
	msg, complete, _ := r.Ingest(chunk("d", 2, 3, "2"))
	if !complete || msg != "x12" {
		t.Errorf("message = %q complete=%v, want %q", msg, complete, "x12")
	}
}

func TestReassemblerMissingData(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())
	_, complete, err := r.Ingest(Chunk{ID: "n", Index: 0, Total: 2})
	if !errors.Is(err, ErrMalformedChunk) {
		t.Errorf("error = %v, want ErrMalformedChunk", err)
	}
	if complete {
		t.Error("malformed chunk must not complete")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (no state change)", r.Len())
	}
}

func TestReassemblerEmptyDataIsValid(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())
	r.Ingest(chunk("e", 0, 2, "abc"))
	msg, complete, err := r.Ingest(chunk("e", 1, 2, ""))
	if err != nil || !complete || msg != "abc" {
		t.Errorf("Ingest() = %q, %v, %v; want \"abc\", true, nil", msg, complete, err)
	}
}

func TestReassemblerRejectsBadIndex(t *testing.T) {
	tests := []struct {
		name string
		c    Chunk
	}{
		{"index equals total", chunk("b", 2, 2, "x")},
		{"negative index", chunk("b", -1, 2, "x")},
		{"zero total", chunk("b", 0, 0, "x")},
		{"empty id", chunk("", 0, 1, "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler(DefaultReassemblerOptions())
			if _, _, err := r.Ingest(tt.c); !errors.Is(err, ErrMalformedChunk) {
				t.Errorf("error = %v, want ErrMalformedChunk", err)
			}
			if r.Len() != 0 {
				t.Errorf("Len() = %d, want 0", r.Len())
			}
		})
	}
}

func TestReassemblerTotalFixedAtFirstChunk(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())
	r.Ingest(chunk("t", 0, 3, "a"))

	_, _, err := r.Ingest(chunk("t", 1, 2, "b"))
	if !errors.Is(err, ErrTotalMismatch) {
		t.Fatalf("error = %v, want ErrTotalMismatch", err)
	}
	received, total, _ := r.Progress("t")
	if received != 1 || total != 3 {
		t.Errorf("Progress() = %d/%d, want 1/3", received, total)
	}
}

func TestReassemblerTTLEviction(t *testing.T) {
	r := NewReassembler(ReassemblerOptions{MaxPending: 8, TTL: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Ingest(chunk("stale", 0, 2, "a"))
	now = now.Add(2 * time.Minute)
	r.Ingest(chunk("fresh", 0, 2, "b"))

	if _, _, ok := r.Progress("stale"); ok {
		t.Error("stale message should have been evicted")
	}
	if _, _, ok := r.Progress("fresh"); !ok {
		t.Error("fresh message should still be pending")
	}
}

func TestReassemblerNoTTLKeepsForever(t *testing.T) {
	r := NewReassembler(ReassemblerOptions{MaxPending: 8, TTL: 0})
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Ingest(chunk("old", 0, 2, "a"))
	now = now.Add(24 * time.Hour)
	r.Ingest(chunk("other", 0, 2, "b"))

	if _, _, ok := r.Progress("old"); !ok {
		t.Error("message should be kept when TTL is disabled")
	}
}

func TestReassemblerCapacityEviction(t *testing.T) {
	r := NewReassembler(ReassemblerOptions{MaxPending: 2})
	r.Ingest(chunk("a", 0, 2, "a"))
	r.Ingest(chunk("b", 0, 2, "b"))
	r.Ingest(chunk("c", 0, 2, "c"))

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	if _, _, ok := r.Progress("a"); ok {
		t.Error("least recently touched message should be evicted")
	}
}

func TestReassemblerReset(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())
	r.Ingest(chunk("a", 0, 2, "a"))
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len() = %d after Reset, want 0", r.Len())
	}
}

func TestReassemblerHugeTotalDoesNotAllocate(t *testing.T) {
	r := NewReassembler(DefaultReassemblerOptions())

	msg, complete, err := r.Ingest(chunk("big", 0, 1<<40, "a"))
	if err != nil || complete {
		t.Fatalf("Ingest() = %q, %v, %v; want waiting", msg, complete, err)
	}
	received, total, ok := r.Progress("big")
	if !ok || received != 1 || total != 1<<40 {
		t.Errorf("Progress() = %d, %d, %v", received, total, ok)
	}

	if _, _, err := r.Ingest(chunk("big", (1<<40)-1, 1<<40, "z")); err != nil {
		t.Errorf("Ingest() at the last index error = %v", err)
	}
	if _, _, err := r.Ingest(chunk("big", 0, 1<<40, "a")); !errors.Is(err, ErrDuplicateChunk) {
		t.Errorf("duplicate error = %v, want ErrDuplicateChunk", err)
	}

	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len() = %d after Reset", r.Len())
	}
}
