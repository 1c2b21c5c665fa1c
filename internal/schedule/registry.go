package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Registry maps predefined schedule names to validated Sets.
//
// It is never mutated after NewRegistry returns, so concurrent Lookup calls
// need no locking. A config reload builds a new Registry instead.
type Registry struct {
	sets map[string]Set
}

// NewRegistry validates every named set. Any invalid set fails the whole
// registry: running with a partially valid one is not allowed.
func NewRegistry(raw map[string][]RawEntry, loc *time.Location) (*Registry, error) {
	sets := make(map[string]Set, len(raw))
	for _, name := range sortedKeys(raw) {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("predefined schedule with empty name")
		}
		set, err := ParseSet(raw[name], loc)
		if err != nil {
			return nil, fmt.Errorf("predefined schedule %q: %w", name, err)
		}
		sets[name] = set
	}
	return &Registry{sets: sets}, nil
}

// DecodeRegistryJSON decodes the {"name": [{schedule, replicas}, ...]} payload.
// An empty payload decodes to an empty map.
func DecodeRegistryJSON(data []byte) (map[string][]RawEntry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string][]RawEntry{}, nil
	}
	var raw map[string][]RawEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("predefined schedules: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("predefined schedules: trailing data")
	}
	if raw == nil {
		raw = map[string][]RawEntry{}
	}
	return raw, nil
}

// Lookup returns the named set. A nil Registry holds nothing.
func (r *Registry) Lookup(name string) (Set, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.sets[name]
	return s, ok
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sets)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.sets)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
