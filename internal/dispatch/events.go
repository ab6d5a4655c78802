package dispatch

import "time"

// Event types published on the bus.
const (
	EventBatchFinished  = "batch.finished"
	EventDeliveryFailed = "delivery.failed"
	EventGivenUp        = "delivery.given_up"
)

type BatchEvent struct {
	Source   string        `json:"source"`
	TraceID  string        `json:"trace_id"`
	Posts    int           `json:"posts"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

type DeliveryEvent struct {
	Source  string `json:"source"`
	Post    string `json:"post"`
	Target  string `json:"target"`
	Error   string `json:"error,omitempty"`
	TraceID string `json:"trace_id"`
}
