// internal/ble/protocol/chunk.go
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// ErrFragmentBudget is returned when the write limit leaves no room for
// chunk data once the chunk framing is accounted for.
var ErrFragmentBudget = errors.New("protocol: write limit too small for chunk framing")

// Chunk is one fragment of a logical message, as carried by a
// {"chunk":{...}} notification. Data is a pointer so a missing field can be
// told apart from an empty fragment.
type Chunk struct {
	ID    string  `json:"id"`
	Index int     `json:"index"`
	Total int     `json:"total"`
	Data  *string `json:"data,omitempty"`
}

// ChunkEnvelope is the wire wrapper around a Chunk.
type ChunkEnvelope struct {
	Chunk Chunk `json:"chunk"`
}

// ChunkText splits text into chunks that each fit within maxBytes.
// It prefers splitting at word boundaries (spaces) and never splits
// in the middle of a UTF-8 character. Returns nil for empty text.
func ChunkText(text string, maxBytes int) []string {
	if len(text) == 0 || maxBytes <= 0 {
		return nil
	}
	if len(text) <= maxBytes {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxBytes {
			chunks = append(chunks, text)
			break
		}

		split := maxBytes
		for split > 0 && !utf8.RuneStart(text[split]) {
			split--
		}
		if split == 0 {
			// A single rune wider than maxBytes still has to make progress.
			_, size := utf8.DecodeRuneInString(text)
			split = size
		}

		bestSpace := -1
		for i := split; i > 0; i-- {
			if text[i-1] == ' ' {
				bestSpace = i
				break
			}
		}

		if bestSpace > 0 {
			// The space stays with the first chunk so reassembly is exact.
			chunks = append(chunks, text[:bestSpace])
			text = text[bestSpace:]
		} else {
			chunks = append(chunks, text[:split])
			text = text[split:]
		}
	}
	return chunks
}

// Fragment splits an encoded message into chunk envelopes whose encoded
// size is at most maxBytes each. The fragments reassemble, in index order,
// to exactly payload.
func Fragment(id, payload string, maxBytes int) ([][]byte, error) {
	if payload == "" {
		return nil, nil
	}

	// Framing cost with the widest index/total this payload could need.
	digits := len(strconv.Itoa(len(payload)))
	wide := 1
	for i := 0; i < digits; i++ {
		wide *= 10
	}
	empty := ""
	frame, err := json.Marshal(ChunkEnvelope{Chunk: Chunk{ID: id, Index: wide - 1, Total: wide - 1, Data: &empty}})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode chunk frame: %w", err)
	}
	budget := maxBytes - len(frame)

	for budget > 0 {
		pieces := ChunkText(payload, budget)
		frames := make([][]byte, 0, len(pieces))
		overshoot := 0
		for i := range pieces {
			data := pieces[i]
			b, err := json.Marshal(ChunkEnvelope{Chunk: Chunk{ID: id, Index: i, Total: len(pieces), Data: &data}})
			if err != nil {
				return nil, fmt.Errorf("protocol: encode chunk %d: %w", i, err)
			}
			if over := len(b) - maxBytes; over > overshoot {
				overshoot = over
			}
			frames = append(frames, b)
		}
		if overshoot == 0 {
			return frames, nil
		}
		// JSON escaping inflated some fragment; shrink the data budget.
		budget -= overshoot
	}
	return nil, fmt.Errorf("%w (limit %d bytes)", ErrFragmentBudget, maxBytes)
}
