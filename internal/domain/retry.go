package domain

import (
	"fmt"
	"time"
)

// RetryRecord is a notification waiting for redelivery after every provider
// in its channel's chain failed.
type RetryRecord struct {
	NotificationID string            `json:"notificationId"`
	CorrelationID  string            `json:"correlationId,omitempty"`
	UserID         string            `json:"userId"`
	Channel        Channel           `json:"channel"`
	Recipient      string            `json:"recipient"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Rendered       RenderedContent   `json:"rendered"`
	AttemptCount   int64             `json:"attemptCount"`
	FailureReason  string            `json:"failureReason,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Age returns how long ago the record was first queued.
func (r RetryRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// NewRetryRecord captures a failed notification and its rendered content.
func NewRetryRecord(n Notification, recipient string, rendered RenderedContent, createdAt time.Time) RetryRecord {
	var metadata map[string]string
	if len(n.Metadata) > 0 {
		metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			metadata[k] = v
		}
	}

	return RetryRecord{
		NotificationID: n.ID,
		CorrelationID:  n.CorrelationID,
		UserID:         n.UserID,
		Channel:        n.Channel,
		Recipient:      recipient,
		Title:          n.Title,
		Body:           n.Message,
		Metadata:       metadata,
		Rendered:       rendered,
		CreatedAt:      createdAt.UTC(),
	}
}

// Band is an age window in which the scheduler acts on a record.
type Band string

const (
	BandNone    Band = "none"
	BandFirst   Band = "first"
	BandSecond  Band = "second"
	BandCleanup Band = "cleanup"
)

func (b Band) String() string { return string(b) }

// RetryPolicy holds the age marks, relative to RetryRecord.CreatedAt, that
// drive redelivery and cleanup.
type RetryPolicy struct {
	// Retention is the nominal lifetime of a record; records at or past it are purged.
	Retention time.Duration
	// ExpiryGrace keeps keys alive past Retention so cleanup can observe and report them.
	ExpiryGrace  time.Duration
	FirstMark    time.Duration
	SecondMark   time.Duration
	BandWidth    time.Duration
	ScanInterval time.Duration
}

// DefaultRetryPolicy is the reference policy: retries at 2 and 4 minutes,
// cleanup at 5, scanned every 10 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retention:    5 * time.Minute,
		ExpiryGrace:  30 * time.Second,
		FirstMark:    2 * time.Minute,
		SecondMark:   4 * time.Minute,
		BandWidth:    time.Minute,
		ScanInterval: 10 * time.Second,
	}
}

// KeyTTL is the expiration applied to both the record and its counter.
func (p RetryPolicy) KeyTTL() time.Duration {
	return p.Retention + p.ExpiryGrace
}

func (p RetryPolicy) Validate() error {
	if p.Retention <= 0 || p.FirstMark <= 0 || p.SecondMark <= 0 || p.BandWidth <= 0 || p.ScanInterval <= 0 {
		return fmt.Errorf("%w: retry policy durations must be positive", ErrValidation)
	}
	if p.ExpiryGrace < 0 {
		return fmt.Errorf("%w: retry expiry grace must not be negative", ErrValidation)
	}
	if p.FirstMark+p.BandWidth > p.SecondMark {
		return fmt.Errorf("%w: first band [%s,%s) overlaps second mark %s", ErrValidation, p.FirstMark, p.FirstMark+p.BandWidth, p.SecondMark)
	}
	if p.SecondMark+p.BandWidth > p.Retention {
		return fmt.Errorf("%w: second band [%s,%s) overlaps retention %s", ErrValidation, p.SecondMark, p.SecondMark+p.BandWidth, p.Retention)
	}
	if p.ScanInterval >= p.BandWidth {
		return fmt.Errorf("%w: scan interval %s must be shorter than band width %s", ErrValidation, p.ScanInterval, p.BandWidth)
	}
	return nil
}

// BandFor classifies a record age. Ages between bands map to BandNone.
func (p RetryPolicy) BandFor(age time.Duration) Band {
	switch {
	case age >= p.Retention:
		return BandCleanup
	case age >= p.SecondMark && age < p.SecondMark+p.BandWidth:
		return BandSecond
	case age >= p.FirstMark && age < p.FirstMark+p.BandWidth:
		return BandFirst
	default:
		return BandNone
	}
}

// RetryStats is a point-in-time view over the retry store.
type RetryStats struct {
	Total           int `json:"total"`
	DueAtFirstMark  int `json:"dueAtFirstMark"`
	DueAtSecondMark int `json:"dueAtSecondMark"`
	DueForCleanup   int `json:"dueForCleanup"`
}

// ComputeRetryStats aggregates band membership for the given records.
func ComputeRetryStats(records []RetryRecord, policy RetryPolicy, now time.Time) RetryStats {
	stats := RetryStats{Total: len(records)}
	for i := range records {
		switch policy.BandFor(records[i].Age(now)) {
		case BandFirst:
			stats.DueAtFirstMark++
		case BandSecond:
			stats.DueAtSecondMark++
		case BandCleanup:
			stats.DueForCleanup++
		}
	}
	return stats
}
