package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ReplicasKind tags a ReplicasSpec.
type ReplicasKind int

const (
	ReplicasLiteral ReplicasKind = iota
	ReplicasPointer
)

func (k ReplicasKind) String() string {
	switch k {
	case ReplicasLiteral:
		return "literal"
	case ReplicasPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// ReplicasSpec is either a literal replica count or the key of another
// annotation on the same resource holding that count.
type ReplicasSpec struct {
	Kind  ReplicasKind
	Value int32  // ReplicasLiteral
	Key   string // ReplicasPointer
}

func Literal(n int32) ReplicasSpec { return ReplicasSpec{Kind: ReplicasLiteral, Value: n} }

func Pointer(key string) ReplicasSpec { return ReplicasSpec{Kind: ReplicasPointer, Key: key} }

func (r ReplicasSpec) String() string {
	if r.Kind == ReplicasPointer {
		return "@" + r.Key
	}
	return strconv.FormatInt(int64(r.Value), 10)
}

// ParseReplicas classifies a raw "replicas" value.
//
// Digits (surrounding whitespace allowed) are a literal. A leading '-' followed
// by digits is a negative literal and rejected. Anything else names an annotation.
func ParseReplicas(raw string) (ReplicasSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ReplicasSpec{}, fmt.Errorf("%w: empty", ErrInvalidReplicas)
	}
	if isDigits(s) {
		n, err := parseLiteral(s)
		if err != nil {
			return ReplicasSpec{}, err
		}
		return Literal(n), nil
	}
	if s[0] == '-' && isDigits(s[1:]) {
		return ReplicasSpec{}, fmt.Errorf("%w: %q is negative", ErrInvalidReplicas, raw)
	}
	return Pointer(raw), nil
}

// Resolve returns the replica count. Pointer targets are read verbatim from
// annotations and must hold a literal; pointers are not followed further.
func (r ReplicasSpec) Resolve(annotations map[string]string) (int32, error) {
	switch r.Kind {
	case ReplicasLiteral:
		if r.Value < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrInvalidReplicas, r.Value)
		}
		return r.Value, nil
	case ReplicasPointer:
		v, ok := annotations[r.Key]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrMissingPointerTarget, r.Key)
		}
		s := strings.TrimSpace(v)
		if !isDigits(s) {
			return 0, fmt.Errorf("%w: annotation %q holds %q", ErrInvalidReplicas, r.Key, v)
		}
		return parseLiteral(s)
	default:
		return 0, fmt.Errorf("%w: unknown kind %d", ErrInvalidReplicas, r.Kind)
	}
}

func parseLiteral(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidReplicas, s)
	}
	return int32(n), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
