package models

// These structs define the JSON payloads exchanged with whoever triggers a
// packaging batch (the scheduler, an operator, or Cloud Scheduler).

// TriggerResponse is the body returned when a batch is accepted.
type TriggerResponse struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
}

// ScheduledTrigger is the optional data carried by a scheduled CloudEvent.
type ScheduledTrigger struct {
	Reason string `json:"reason,omitempty"`
}
