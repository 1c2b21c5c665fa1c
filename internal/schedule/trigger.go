package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Five fields only: minute, hour, day-of-month, month, day-of-week.
// Names (JAN, mon, ...) are matched case-insensitively by the parser.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Window is the half-open interval (Prev, Cur] evaluated by one reconciliation pass.
type Window struct {
	Prev time.Time
	Cur  time.Time
}

// Contains reports whether Prev < t <= Cur.
func (w Window) Contains(t time.Time) bool {
	return t.After(w.Prev) && !t.After(w.Cur)
}

func (w Window) String() string {
	return fmt.Sprintf("(%s, %s]", w.Prev.Format(time.RFC3339), w.Cur.Format(time.RFC3339))
}

// Trigger is a parsed cron expression bound to the location its fields are read in.
type Trigger struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

// ParseTrigger validates expr as a 5-field cron expression.
// A nil loc means UTC. Every trigger is evaluated in loc, so a TZ= or
// CRON_TZ= prefix is rejected. Day-of-week 7 is read as Sunday.
func ParseTrigger(expr string, loc *time.Location) (Trigger, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Trigger{}, fmt.Errorf("%w: empty", ErrInvalidCron)
	}
	if u := strings.ToUpper(s); strings.HasPrefix(u, "TZ=") || strings.HasPrefix(u, "CRON_TZ=") {
		return Trigger{}, fmt.Errorf("%w: %q: time zone prefixes are not supported", ErrInvalidCron, expr)
	}
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return Trigger{}, fmt.Errorf("%w: %q: expected 5 fields, got %d", ErrInvalidCron, expr, len(fields))
	}
	fields[4] = sundaySeven(fields[4])
	sched, err := cronParser.Parse(strings.Join(fields, " "))
	if err != nil {
		return Trigger{}, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return Trigger{expr: s, sched: sched, loc: loc}, nil
}

func (t Trigger) String() string { return t.expr }

var dowNames = map[string]int{"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6}

// sundaySeven rewrites a day-of-week field so 7 means Sunday, which the cron
// parser only accepts as 0: "7" becomes "0", "5-7" becomes "5-6,0" and
// "1-7/2" becomes "1-6/2,0". Anything it does not recognise is left for the
// parser to accept or reject.
func sundaySeven(field string) string {
	items := strings.Split(field, ",")
	out := make([]string, 0, len(items)+1)
	for _, item := range items {
		rng, step, hasStep := strings.Cut(item, "/")
		lo, hi, isRange := strings.Cut(rng, "-")
		switch {
		case !isRange && !hasStep && rng == "7":
			out = append(out, "0")
		case isRange && hi == "7":
			n := 1
			if hasStep {
				v, err := strconv.Atoi(step)
				if err != nil || v <= 0 {
					out = append(out, item)
					continue
				}
				n = v
			}
			start, ok := dowNames[strings.ToUpper(lo)]
			if !ok {
				v, err := strconv.Atoi(lo)
				if err != nil {
					out = append(out, item)
					continue
				}
				start = v
			}
			switch {
			case start > 7:
				out = append(out, item)
				continue
			case start == 7:
				out = append(out, "0")
				continue
			}
			rewritten := lo + "-6"
			if hasStep {
				rewritten += "/" + step
			}
			out = append(out, rewritten)
			if (7-start)%n == 0 {
				out = append(out, "0")
			}
		default:
			out = append(out, item)
		}
	}
	return strings.Join(out, ",")
}

// Next returns the earliest fire instant strictly after `after`, or the zero
// time when the expression can never fire (e.g. "0 0 30 2 *").
func (t Trigger) Next(after time.Time) time.Time {
	if t.sched == nil {
		return time.Time{}
	}
	loc := t.loc
	if loc == nil {
		loc = time.UTC
	}
	return t.sched.Next(after.In(loc))
}

// FiredIn reports whether the trigger fired inside w and at which instant.
//
// Only the earliest fire after w.Prev is considered, so a window wider than the
// gap between two fires reports one fire, never several.
func (t Trigger) FiredIn(w Window) (time.Time, bool) {
	if !w.Cur.After(w.Prev) {
		return time.Time{}, false
	}
	next := t.Next(w.Prev)
	if next.IsZero() || next.After(w.Cur) {
		return time.Time{}, false
	}
	return next, true
}
