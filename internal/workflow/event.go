package workflow

import "time"

// EventKind classifies an external trigger occurrence.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
	EventSchedule    EventKind = "schedule"
	EventManual      EventKind = "manual"
)

// KnownEventKind reports whether k is one of the supported trigger kinds.
func KnownEventKind(k EventKind) bool {
	switch k {
	case EventPush, EventPullRequest, EventSchedule, EventManual:
		return true
	}
	return false
}

// Event is a single external trigger occurrence delivered to the matcher.
type Event struct {
	Kind EventKind `json:"kind"`

	// Ref is the branch or reference the event concerns, e.g. "main".
	Ref string `json:"ref,omitempty"`

	// Paths lists the files touched by the event, used by path filters.
	Paths []string `json:"paths,omitempty"`

	// Payload carries arbitrary event context, exposed to expressions as
	// event.payload.<key>.
	Payload map[string]string `json:"payload,omitempty"`

	// Inputs carries the explicit input mapping of a manual trigger.
	Inputs map[string]string `json:"inputs,omitempty"`

	Time time.Time `json:"time"`
}

// ResolvedContext is the per-run evaluation context produced by the
// trigger matcher. The run owns its own copy once started.
type ResolvedContext struct {
	Event *Event

	// Inputs holds manual-trigger inputs after defaulting.
	Inputs map[string]string
}

// Clone returns a deep copy so the run can own its context independently
// of the event's producer.
func (c *ResolvedContext) Clone() *ResolvedContext {
	if c == nil {
		return nil
	}
	out := &ResolvedContext{Inputs: copyStringMap(c.Inputs)}
	if c.Event != nil {
		ev := *c.Event
		ev.Paths = append([]string(nil), c.Event.Paths...)
		ev.Payload = copyStringMap(c.Event.Payload)
		ev.Inputs = copyStringMap(c.Event.Inputs)
		out.Event = &ev
	}
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
