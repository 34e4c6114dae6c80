package core

import (
	"context"
	"errors"
)

// Progress texts announced during a run.
const (
	ProgressPlanning    = "Creating a plan..."
	ProgressNextStep    = "Planning the next step..."
	ProgressExecuting   = "Executing step: "
	ProgressSummarizing = "Summing up findings..."
)

// EventData is the payload of a progress event.
type EventData struct {
	Content string `json:"content"`
}

// Event is a user-visible progress notification.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// NewProgressEvent builds a "message" event; the content ends with a newline.
func NewProgressEvent(text string) Event {
	return Event{Type: "message", Data: EventData{Content: text + "\n"}}
}

// Emitter delivers progress events to the host. Failures never affect the run.
type Emitter func(ctx context.Context, ev Event) error

// FanOut returns an emitter that delivers to every non-nil emitter and joins
// their errors.
func FanOut(emitters ...Emitter) Emitter {
	return func(ctx context.Context, ev Event) error {
		var errs []error
		for _, emit := range emitters {
			if emit == nil {
				continue
			}
			if err := emit(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
