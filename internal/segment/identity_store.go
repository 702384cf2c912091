package segment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/trackline/aissegment/internal/aismsg"
)

// IdentityStoreConfig carries the tunables for confirmation and eviction.
type IdentityStoreConfig struct {
	ConfirmCount int           // IDENT_CONFIRM
	Window       time.Duration // IDENT_WINDOW
	Cap          int           // IDENT_CAP, per attribute
}

// DefaultIdentityStoreConfig returns the default tunables.
func DefaultIdentityStoreConfig() IdentityStoreConfig {
	return IdentityStoreConfig{
		ConfirmCount: 2,
		Window:       15 * time.Minute,
		Cap:          32,
	}
}

// identityEntry tracks one observed value for one attribute.
type identityEntry struct {
	value      any
	firstSeen  time.Time
	lastSeen   time.Time
	timestamps []time.Time // bounded, oldest-first; trimmed to Window on each observe
}

func (e *identityEntry) recentCount(at time.Time, window time.Duration) int {
	cutoff := at.Add(-window)
	n := 0
	for _, ts := range e.timestamps {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// attrStore is the bounded multiset for a single identity attribute.
type attrStore struct {
	cfg     IdentityStoreConfig
	entries map[any]*identityEntry
}

func newAttrStore(cfg IdentityStoreConfig) *attrStore {
	return &attrStore{cfg: cfg, entries: make(map[any]*identityEntry)}
}

func (s *attrStore) observe(value any, at time.Time) {
	entry, ok := s.entries[value]
	if !ok {
		if len(s.entries) >= s.cfg.Cap {
			s.evictOldest()
		}
		entry = &identityEntry{value: value, firstSeen: at}
		s.entries[value] = entry
	}
	entry.lastSeen = at
	entry.timestamps = append(entry.timestamps, at)
	// Trim observations older than the confirmation window; nothing past
	// it can contribute to a future confirmation check.
	cutoff := at.Add(-s.cfg.Window)
	trimmed := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if !ts.Before(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	entry.timestamps = trimmed
}

func (s *attrStore) evictOldest() {
	var oldestKey any
	var oldestSeen time.Time
	first := true
	for k, e := range s.entries {
		if first || e.lastSeen.Before(oldestSeen) {
			oldestKey = k
			oldestSeen = e.lastSeen
			first = false
		}
	}
	if !first {
		delete(s.entries, oldestKey)
	}
}

// confirmedValues returns every value currently confirmed as of `at`.
func (s *attrStore) confirmedValues(at time.Time) []any {
	var out []any
	for v, e := range s.entries {
		if e.recentCount(at, s.cfg.Window) >= s.cfg.ConfirmCount {
			out = append(out, v)
		}
	}
	return out
}

// IdentityStore is the per-segment atomic identity cache: one bounded,
// time-windowed multiset per identity attribute.
type IdentityStore struct {
	cfg   IdentityStoreConfig
	attrs map[aismsg.IdentityAttr]*attrStore
}

// NewIdentityStore constructs an empty store.
func NewIdentityStore(cfg IdentityStoreConfig) *IdentityStore {
	return &IdentityStore{cfg: cfg, attrs: make(map[aismsg.IdentityAttr]*attrStore)}
}

// Observe records the attribute values present in tuple as having been seen
// at time `at`. Attributes with no value in the tuple are left untouched.
func (s *IdentityStore) Observe(tuple aismsg.IdentityTuple, at time.Time) {
	for _, attr := range aismsg.IdentityAttrs {
		v, ok := tuple.Value(attr)
		if !ok {
			continue
		}
		store, exists := s.attrs[attr]
		if !exists {
			store = newAttrStore(s.cfg)
			s.attrs[attr] = store
		}
		store.observe(v, at)
	}
}

// IdentityMatch is the per-attribute outcome of comparing a message's
// identity tuple against a segment's confirmed identity store.
type IdentityMatch int

const (
	Unknown IdentityMatch = iota
	Match
	Mismatch
)

// Compare returns the IdentityMatch for a single attribute's observed
// value against this store's confirmed values as of `at`.
func (s *IdentityStore) Compare(attr aismsg.IdentityAttr, value any, hasValue bool, at time.Time) IdentityMatch {
	if !hasValue {
		return Unknown
	}
	store, ok := s.attrs[attr]
	if !ok {
		return Unknown
	}
	confirmed := store.confirmedValues(at)
	if len(confirmed) == 0 {
		return Unknown
	}
	for _, c := range confirmed {
		if c == value {
			return Match
		}
	}
	return Mismatch
}

// CompareAll compares every attribute of tuple against the store, returning
// a map from attribute to IdentityMatch.
func (s *IdentityStore) CompareAll(tuple aismsg.IdentityTuple, at time.Time) map[aismsg.IdentityAttr]IdentityMatch {
	out := make(map[aismsg.IdentityAttr]IdentityMatch, len(aismsg.IdentityAttrs))
	for _, attr := range aismsg.IdentityAttrs {
		v, ok := tuple.Value(attr)
		out[attr] = s.Compare(attr, v, ok, at)
	}
	return out
}

// AttrEntrySnapshot is one observed value's state, flattened for
// serialization by Snapshot/Restore. Value is boxed as `any` in memory, but
// its custom (Un)MarshalJSON reconstructs the attribute's real Go type
// (string, int64, float64 or TypeClass) from Attr on the way back in — a
// plain json.Unmarshal into `any` would decode every number as float64,
// which then fails the typed `==` comparison in IdentityStore.Compare for
// every restored IMO or type-class value.
type AttrEntrySnapshot struct {
	Attr       aismsg.IdentityAttr
	Value      any
	FirstSeen  time.Time
	LastSeen   time.Time
	Timestamps []time.Time
}

type attrEntrySnapshotWire struct {
	Attr       aismsg.IdentityAttr
	Value      json.RawMessage
	FirstSeen  time.Time
	LastSeen   time.Time
	Timestamps []time.Time
}

// MarshalJSON encodes Value using its natural JSON representation; the
// attribute-specific type is recovered by UnmarshalJSON on the way back.
func (e AttrEntrySnapshot) MarshalJSON() ([]byte, error) {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return nil, fmt.Errorf("segment: marshal identity value for %s: %w", e.Attr, err)
	}
	return json.Marshal(attrEntrySnapshotWire{
		Attr:       e.Attr,
		Value:      value,
		FirstSeen:  e.FirstSeen,
		LastSeen:   e.LastSeen,
		Timestamps: e.Timestamps,
	})
}

func (e *AttrEntrySnapshot) UnmarshalJSON(data []byte) error {
	var wire attrEntrySnapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	value, err := decodeIdentityValue(wire.Attr, wire.Value)
	if err != nil {
		return err
	}
	e.Attr = wire.Attr
	e.Value = value
	e.FirstSeen = wire.FirstSeen
	e.LastSeen = wire.LastSeen
	e.Timestamps = wire.Timestamps
	return nil
}

func decodeIdentityValue(attr aismsg.IdentityAttr, raw json.RawMessage) (any, error) {
	switch attr {
	case aismsg.AttrShipName, aismsg.AttrCallSign, aismsg.AttrDestination:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("segment: decode %s identity value: %w", attr, err)
		}
		return v, nil
	case aismsg.AttrIMO:
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("segment: decode %s identity value: %w", attr, err)
		}
		return v, nil
	case aismsg.AttrLength, aismsg.AttrWidth:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("segment: decode %s identity value: %w", attr, err)
		}
		return v, nil
	case aismsg.AttrTypeClass:
		var v aismsg.TypeClass
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("segment: decode %s identity value: %w", attr, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("segment: unknown identity attribute %d", attr)
	}
}

// Snapshot returns every entry currently held across all attributes, in no
// particular order.
func (s *IdentityStore) Snapshot() []AttrEntrySnapshot {
	var out []AttrEntrySnapshot
	for attr, store := range s.attrs {
		for _, e := range store.entries {
			out = append(out, AttrEntrySnapshot{
				Attr:       attr,
				Value:      e.value,
				FirstSeen:  e.firstSeen,
				LastSeen:   e.lastSeen,
				Timestamps: append([]time.Time(nil), e.timestamps...),
			})
		}
	}
	return out
}

// RestoreIdentityStore rebuilds a store from a prior Snapshot, preserving
// each entry's first-seen/last-seen/observation-timestamp state exactly so
// future confirmation checks behave as if the store had never been
// serialized.
func RestoreIdentityStore(cfg IdentityStoreConfig, entries []AttrEntrySnapshot) *IdentityStore {
	s := NewIdentityStore(cfg)
	for _, e := range entries {
		store, ok := s.attrs[e.Attr]
		if !ok {
			store = newAttrStore(cfg)
			s.attrs[e.Attr] = store
		}
		store.entries[e.Value] = &identityEntry{
			value:      e.Value,
			firstSeen:  e.FirstSeen,
			lastSeen:   e.LastSeen,
			timestamps: append([]time.Time(nil), e.Timestamps...),
		}
	}
	return s
}
