package alert

import "time"

// AttemptStatus is the outcome of one tool invocation attempt.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
	AttemptRetried AttemptStatus = "retried"
	AttemptSkipped AttemptStatus = "skipped"
)

// Attempt is one entry in the ordered dispatch attempt log.
type Attempt struct {
	Tool        string        `json:"tool"`
	Channel     string        `json:"channel"`
	Status      AttemptStatus `json:"status"`
	Try         int           `json:"try"`
	At          time.Time     `json:"at"`
	ProviderRef string        `json:"provider_ref,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// OutcomeStatus aggregates the per-channel results of a dispatch.
type OutcomeStatus string

const (
	AllDelivered OutcomeStatus = "all_delivered"
	Partial      OutcomeStatus = "partial"
	AllFailed    OutcomeStatus = "all_failed"
)

// Outcome is the aggregate result of dispatching one alert across the
// selected channel list, with the ordered attempt log kept for audit.
type Outcome struct {
	AlertID    string        `json:"alert_id"`
	Status     OutcomeStatus `json:"status"`
	Attempts   []Attempt     `json:"attempts"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Delivered reports whether at least one channel succeeded.
func (o *Outcome) Delivered() bool {
	return o != nil && o.Status != AllFailed
}
