package server

import (
	"time"

	"schedscaler/internal/reconcile"
)

type statusView struct {
	PreviousTick *time.Time     `json:"previous_tick,omitempty"`
	LastPass     *passView      `json:"last_pass,omitempty"`
	Resources    []resourceView `json:"resources,omitempty"`
	Counts       map[string]int `json:"counts,omitempty"`
}

type passView struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	StartedAt   time.Time `json:"started_at"`
	TookMS      int64     `json:"took_ms"`
	Committed   bool      `json:"committed"`
	ListError   string    `json:"list_error,omitempty"`
}

type resourceView struct {
	Kind      string   `json:"kind"`
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Source    string   `json:"source,omitempty"`
	Replicas  int32    `json:"replicas"`
	Target    *int32   `json:"target,omitempty"`
	Schedule  string   `json:"schedule,omitempty"`
	Retry     bool     `json:"retry,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

func newStatusView(rep reconcile.Report, prev time.Time) statusView {
	v := statusView{
		PreviousTick: timePtr(prev),
		LastPass: &passView{
			WindowStart: rep.Window.Prev,
			WindowEnd:   rep.Window.Cur,
			StartedAt:   rep.StartedAt,
			TookMS:      rep.Took.Milliseconds(),
			Committed:   rep.Committed,
		},
	}
	if rep.ListError != nil {
		v.LastPass.ListError = rep.ListError.Error()
	}
	if len(rep.Results) > 0 {
		v.Counts = map[string]int{}
		for st, n := range rep.Counts() {
			v.Counts[string(st)] = n
		}
	}
	for _, r := range rep.Results {
		// unscheduled resources only add noise to the listing
		if r.Status == reconcile.StatusNotScheduled {
			continue
		}
		rv := resourceView{
			Kind:      r.Ref.Kind,
			Namespace: r.Ref.Namespace,
			Name:      r.Ref.Name,
			Status:    string(r.Status),
			Source:    r.Source,
			Replicas:  r.From,
			Retry:     r.Retry,
		}
		if r.Decision.Apply {
			t := r.Decision.Target
			rv.Target = &t
			rv.Schedule = r.Decision.Entry.Trigger.String()
		}
		for _, e := range r.Errors {
			rv.Errors = append(rv.Errors, e.Error())
		}
		v.Resources = append(v.Resources, rv)
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
