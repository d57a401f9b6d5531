package domain

import "time"

// AttemptOutcome is the result of a single backend call.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "success"
	AttemptFailed    AttemptOutcome = "failure"
	AttemptMock      AttemptOutcome = "mock"
)

// AttemptSource tells whether an attempt came from first delivery or from the
// retry scheduler.
type AttemptSource string

const (
	SourceIntake      AttemptSource = "intake"
	SourceFirstRetry  AttemptSource = "retry_first"
	SourceSecondRetry AttemptSource = "retry_second"
)

// DeliveryAttempt is the audit row written for every backend call.
type DeliveryAttempt struct {
	ID             string
	NotificationID string
	Channel        Channel
	Provider       string
	AttemptIndex   int
	ChainSize      int
	Outcome        AttemptOutcome
	Source         AttemptSource
	Error          *string
	DurationMillis int64
	CreatedAt      time.Time
}
