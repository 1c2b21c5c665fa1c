package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// RawEntry is the wire shape shared by the inline annotation and the
// predefined schedules config: {"schedule": "...", "replicas": "..."}.
// Both are decoded with the same strict rules.
//
// MinReplicas and MaxReplicas are the HPA action keys. They are decoded only
// so ParseEntry can name them in its error.
type RawEntry struct {
	Schedule    string          `json:"schedule"`
	Replicas    RawReplicas     `json:"replicas"`
	MinReplicas json.RawMessage `json:"minReplicas,omitempty"`
	MaxReplicas json.RawMessage `json:"maxReplicas,omitempty"`
}

// RawReplicas accepts a JSON string or a JSON number and keeps its text.
type RawReplicas string

func (r *RawReplicas) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = RawReplicas(s)
		return nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("replicas must be a string or a number: %w", err)
	}
	*r = RawReplicas(n.String())
	return nil
}

// Entry is one validated schedule item. Immutable after parsing.
type Entry struct {
	Trigger  Trigger
	Replicas ReplicasSpec
}

func (e Entry) String() string {
	return fmt.Sprintf("%s -> %s", e.Trigger, e.Replicas)
}

// Set is an ordered, non-empty list of entries. Order decides ties.
type Set []Entry

// ParseEntry validates one raw item.
func ParseEntry(raw RawEntry, loc *time.Location) (Entry, error) {
	if strings.TrimSpace(raw.Schedule) == "" {
		return Entry{}, errors.New("schedule required")
	}
	if len(raw.MinReplicas) > 0 || len(raw.MaxReplicas) > 0 {
		return Entry{}, fmt.Errorf("%w: minReplicas/maxReplicas (HorizontalPodAutoscaler bounds) are not supported; set replicas instead", ErrInvalidReplicas)
	}
	if strings.TrimSpace(string(raw.Replicas)) == "" {
		return Entry{}, errors.New("replicas required")
	}
	trig, err := ParseTrigger(raw.Schedule, loc)
	if err != nil {
		return Entry{}, err
	}
	rs, err := ParseReplicas(string(raw.Replicas))
	if err != nil {
		return Entry{}, err
	}
	return Entry{Trigger: trig, Replicas: rs}, nil
}

// ParseSet validates every item, preserving order. An empty list is an error.
func ParseSet(raws []RawEntry, loc *time.Location) (Set, error) {
	if len(raws) == 0 {
		return nil, errors.New("schedule list is empty")
	}
	set := make(Set, 0, len(raws))
	for i, raw := range raws {
		e, err := ParseEntry(raw, loc)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		set = append(set, e)
	}
	return set, nil
}

// ParseSetJSON decodes a JSON array of RawEntry and validates it.
// Unknown keys are rejected, as in DecodeRegistryJSON.
func ParseSetJSON(data string, loc *time.Location) (Set, error) {
	var raws []RawEntry
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("decode: trailing data")
	}
	return ParseSet(raws, loc)
}
