// Package session persists the state needed to resume a BLE session across
// restarts: when the robot was last connected, which device it was, and the
// tool catalog it advertised.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/santa-link/internal/tools"
)

// Key is the storage key holding the session record.
const Key = "bluetoothSession"

// DefaultTTL is how long a saved session stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// Record is the persisted session. It is always written whole.
type Record struct {
	Timestamp          time.Time          `json:"timestamp"`
	LastConnectionTime *time.Time         `json:"lastConnectionTime,omitempty"`
	Tools              []tools.Descriptor `json:"tools"`
	DeviceName         string             `json:"deviceName,omitempty"`
	DeviceID           string             `json:"deviceId,omitempty"`
}

// Store loads and saves the session record. Records whose age reaches the TTL
// are treated as absent and deleted.
type Store struct {
	storage Storage
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL overrides the record lifetime. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewStore creates a Store on top of storage.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load returns the saved record, or nil when there is none. A record that
// cannot be parsed or has expired is cleared and reported as absent.
func (s *Store) Load() (*Record, error) {
	raw, ok, err := s.storage.Get(Key)
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.Warn("discarding unreadable session record", "error", err)
		return nil, s.Clear()
	}
	if rec.Timestamp.IsZero() {
		slog.Warn("discarding session record without timestamp")
		return nil, s.Clear()
	}
	if age := s.now().Sub(rec.Timestamp); age >= s.ttl {
		slog.Info("session record expired", "age", age.Round(time.Second))
		return nil, s.Clear()
	}
	return &rec, nil
}

// Save overwrites the stored record with rec stamped with the current time.
func (s *Store) Save(rec Record) error {
	rec.Timestamp = s.now()
	if rec.Tools == nil {
		rec.Tools = []tools.Descriptor{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: encode record: %w", err)
	}
	if err := s.storage.Set(Key, data); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Clear deletes the stored record.
func (s *Store) Clear() error {
	if err := s.storage.Delete(Key); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}
