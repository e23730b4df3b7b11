package apply

import "time"

// EventType names a step of a run.
type EventType string

const (
	EventRunStarted       EventType = "RUN_STARTED"
	EventRunCompleted     EventType = "RUN_COMPLETED"
	EventPackageStarted   EventType = "PACKAGE_STARTED"
	EventPackageSkipped   EventType = "PACKAGE_SKIPPED"
	EventAttemptFailed    EventType = "ATTEMPT_FAILED"
	EventRetryScheduled   EventType = "RETRY_SCHEDULED"
	EventPackageSucceeded EventType = "PACKAGE_SUCCEEDED"
	EventPackageFailed    EventType = "PACKAGE_FAILED"
	EventFileApplied      EventType = "FILE_APPLIED"
	EventTaskSucceeded    EventType = "TASK_SUCCEEDED"
)

// Event is reported to observers as a run progresses. Secret values never
// appear in events.
type Event struct {
	TS      time.Time
	Type    EventType
	Package string
	Attempt int
	// Path is the destination of a FILE_APPLIED event.
	Path string
	// Task is the task name of a TASK_SUCCEEDED event.
	Task    string
	Delay   time.Duration
	Message string
	Err     error
}

// Observer receives run events synchronously, in order.
type Observer interface {
	ObserveEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) ObserveEvent(ev Event) { f(ev) }
