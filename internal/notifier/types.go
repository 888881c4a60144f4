package notifier

import (
	"context"
	"time"
)

type Config struct {
	Enabled bool
	// OnlyFailures suppresses completion messages.
	OnlyFailures  bool
	QueueSize     int
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Sink delivers one formatted message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
	Err  string    `json:"error,omitempty"`
}
