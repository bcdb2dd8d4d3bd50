package domain

import "time"

type JobState string

const (
	JobStatePending  JobState = "pending"
	JobStateInFlight JobState = "in_flight"
	JobStateDone     JobState = "done"
	JobStateDead     JobState = "dead"
)

// Job is the durable unit of queued inbound processing. Its id equals the
// canonical message id; enqueueing the same id while a job is pending or
// in-flight is a no-op.
type Job struct {
	ID             string    `json:"id"`
	Payload        Message   `json:"payload"`
	State          JobState  `json:"state"`
	Attempts       int       `json:"attempts"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
