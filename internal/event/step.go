package event

import "maps"

// StepStatus is the lifecycle state of a routing step
type StepStatus string

const (
	// StatusPending marks a step that has not produced a result yet
	StatusPending StepStatus = "PENDING"

	// StatusOK marks a step processed successfully
	StatusOK StepStatus = "OK"

	// StatusError marks a failed attempt of a step
	StatusError StepStatus = "ERROR"

	// StatusSkip marks a step intentionally bypassed
	StatusSkip StepStatus = "SKIP"
)

const (
	// DefaultStepVersion is the step contract version used when a rule omits it
	DefaultStepVersion = "1"

	// DefaultMaxAttempts is the attempt budget used when a rule omits it
	DefaultMaxAttempts = 3
)

// Valid reports whether s is one of the known statuses
func (s StepStatus) Valid() bool {
	switch s {
	case StatusPending, StatusOK, StatusError, StatusSkip:
		return true
	}
	return false
}

// Terminal reports whether s ends an attempt
func (s StepStatus) Terminal() bool {
	return s == StatusOK || s == StatusError || s == StatusSkip
}

// RoutingStep is one hop of a routing slip
type RoutingStep struct {
	ID          string         `json:"id"`
	V           string         `json:"v,omitempty"`
	Status      StepStatus     `json:"status"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"maxAttempts,omitempty"`
	NextTopic   string         `json:"nextTopic,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	StartedAt   string         `json:"startedAt,omitempty"`
	EndedAt     string         `json:"endedAt,omitempty"`
	Error       *StepError     `json:"error,omitempty"`
}

// StepError records why a step attempt failed
type StepError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// CloneSlip deep-copies a routing slip. A nil slip stays nil.
func CloneSlip(slip []RoutingStep) []RoutingStep {
	if slip == nil {
		return nil
	}
	out := make([]RoutingStep, len(slip))
	for i, step := range slip {
		out[i] = step.clone()
	}
	return out
}

func (s RoutingStep) clone() RoutingStep {
	s.Attributes = maps.Clone(s.Attributes)
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}
