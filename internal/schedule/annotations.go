package schedule

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultScheduleKey   = "zalando.org/schedule-actions"
	DefaultPredefinedKey = "zalando.org/schedule-actions-predefined"
	DefaultDisabledKey   = "zalando.org/schedule-actions-disabled"
)

// Keys names the annotations the Parser reads.
type Keys struct {
	Schedule   string // inline JSON list
	Predefined string // registry name
	Disabled   string // "true" disables evaluation
}

func DefaultKeys() Keys {
	return Keys{
		Schedule:   DefaultScheduleKey,
		Predefined: DefaultPredefinedKey,
		Disabled:   DefaultDisabledKey,
	}
}

func (k Keys) withDefaults() Keys {
	d := DefaultKeys()
	if strings.TrimSpace(k.Schedule) == "" {
		k.Schedule = d.Schedule
	}
	if strings.TrimSpace(k.Predefined) == "" {
		k.Predefined = d.Predefined
	}
	if strings.TrimSpace(k.Disabled) == "" {
		k.Disabled = d.Disabled
	}
	return k
}

// SourceKind tells where a resource's Set came from.
type SourceKind int

const (
	SourceInline SourceKind = iota
	SourcePredefined
)

type Source struct {
	Kind SourceKind
	Name string // predefined name
}

func (s Source) String() string {
	if s.Kind == SourcePredefined {
		return "predefined:" + s.Name
	}
	return "inline"
}

// Config is the scaling configuration of one resource, rebuilt every pass.
type Config struct {
	Set      Set
	Disabled bool
	Source   Source
}

// Parser turns annotation maps into Configs. It is immutable and safe for
// concurrent use.
type Parser struct {
	keys     Keys
	registry *Registry
	loc      *time.Location
}

// NewParser builds a parser. A nil registry means no predefined schedules;
// a nil loc means UTC.
func NewParser(keys Keys, registry *Registry, loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{keys: keys.withDefaults(), registry: registry, loc: loc}
}

func (p *Parser) Keys() Keys               { return p.keys }
func (p *Parser) Registry() *Registry      { return p.registry }
func (p *Parser) Location() *time.Location { return p.loc }

// Parse reads the annotations in precedence order: disabled, predefined, inline.
//
// It returns ErrNotScheduled when none of the keys is present,
// ErrUnknownPredefinedSchedule or ErrInvalidScheduleAnnotation otherwise.
func (p *Parser) Parse(annotations map[string]string) (Config, error) {
	if v, ok := annotations[p.keys.Disabled]; ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		return Config{Disabled: true}, nil
	}

	if v, ok := annotations[p.keys.Predefined]; ok {
		name := strings.TrimSpace(v)
		set, found := p.registry.Lookup(name)
		if !found {
			return Config{}, fmt.Errorf("%w: %q", ErrUnknownPredefinedSchedule, name)
		}
		return Config{Set: set, Source: Source{Kind: SourcePredefined, Name: name}}, nil
	}

	if v, ok := annotations[p.keys.Schedule]; ok {
		set, err := ParseSetJSON(v, p.loc)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidScheduleAnnotation, err)
		}
		return Config{Set: set, Source: Source{Kind: SourceInline}}, nil
	}

	return Config{}, ErrNotScheduled
}
