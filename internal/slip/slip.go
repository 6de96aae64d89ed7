package slip

import (
	"strings"
	"time"

	"github.com/aescanero/dago-chat-router/internal/event"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// EnsureSlip makes sure evt carries a slip and fills step defaults (status,
// contract version and attempt budget). It returns the slip.
func EnsureSlip(evt *event.Envelope) []event.RoutingStep {
	if evt.RoutingSlip == nil {
		evt.RoutingSlip = []event.RoutingStep{}
	}
	for i := range evt.RoutingSlip {
		step := &evt.RoutingSlip[i]
		if !step.Status.Valid() {
			step.Status = event.StatusPending
		}
		if step.V == "" {
			step.V = event.DefaultStepVersion
		}
		if step.MaxAttempts <= 0 {
			step.MaxAttempts = event.DefaultMaxAttempts
		}
		if step.Attempt < 0 {
			step.Attempt = 0
		}
	}
	return evt.RoutingSlip
}

// FindNextActionable returns the index of the first step that is neither OK
// nor SKIP, or -1 when the slip is drained
func FindNextActionable(slip []event.RoutingStep) int {
	for i, step := range slip {
		if step.Status != event.StatusOK && step.Status != event.StatusSkip {
			return i
		}
	}
	return -1
}

// MarkStepStarted stamps the start time of step i
func MarkStepStarted(slip []event.RoutingStep, i int, now time.Time) bool {
	if i < 0 || i >= len(slip) {
		return false
	}
	slip[i].StartedAt = now.UTC().Format(timeLayout)
	return true
}

// MarkStepResult records the outcome of step i and stamps its end time
func MarkStepResult(slip []event.RoutingStep, i int, status event.StepStatus, stepErr *event.StepError, now time.Time) bool {
	if i < 0 || i >= len(slip) || !status.Valid() {
		return false
	}
	slip[i].Status = status
	slip[i].EndedAt = now.UTC().Format(timeLayout)
	if stepErr != nil {
		slip[i].Error = stepErr
	}
	return true
}

// IsComplete reports whether every step is OK or SKIP. An empty slip is
// complete.
func IsComplete(slip []event.RoutingStep) bool {
	return FindNextActionable(slip) < 0
}

// SummarizeSlip renders the slip as compact "id:STATUS" pairs
func SummarizeSlip(slip []event.RoutingStep) string {
	parts := make([]string, len(slip))
	for i, step := range slip {
		parts[i] = step.ID + ":" + string(step.Status)
	}
	return strings.Join(parts, " > ")
}

// LastStepID returns the first step that has not reached a terminal status,
// or the final step when all have. It returns "" for an empty slip.
func LastStepID(slip []event.RoutingStep) string {
	for _, step := range slip {
		if !step.Status.Terminal() {
			return step.ID
		}
	}
	if len(slip) == 0 {
		return ""
	}
	return slip[len(slip)-1].ID
}
