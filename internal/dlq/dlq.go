// Package dlq builds dead-letter events: terminal diagnostic envelopes
// produced when an event cannot be routed or a hop cannot proceed.
package dlq

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aescanero/dago-chat-router/internal/event"
	"github.com/aescanero/dago-chat-router/internal/slip"
)

const (
	// EventType is the type of every dead-letter envelope
	EventType = "router.deadletter.v1"

	// Source is the source stamped on dead-letter envelopes
	Source = "router"

	// PreviewLimit is the serialized size above which the original payload
	// is replaced by a truncation marker
	PreviewLimit = 1000

	defaultCode = "ERROR"
)

// Params describes a dead-letter event to build
type Params struct {
	Original   *event.Envelope
	Reason     string
	Err        any
	LastStepID string
	Now        time.Time
}

// ErrorInfo is the normalized error carried in a dead-letter payload
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type coder interface {
	Code() string
}

// Build returns the dead-letter envelope for p. It never fails: unknown
// fields are left empty.
func Build(p Params) *event.Envelope {
	orig := p.Original
	if orig == nil {
		orig = &event.Envelope{}
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	reason := p.Reason
	if reason == "" {
		reason = "unknown"
	}

	lastStepID := p.LastStepID
	if lastStepID == "" {
		lastStepID = slip.LastStepID(orig.RoutingSlip)
	}

	payload := map[string]any{
		"reason":       reason,
		"lastStepId":   lastStepID,
		"originalType": orig.Type,
		"slipSummary":  slip.SummarizeSlip(orig.RoutingSlip),
		"failedAt":     now.UTC().Format(time.RFC3339Nano),
	}
	if info := NormalizeError(p.Err); info != nil {
		payload["error"] = info
	}
	if preview := previewOf(orig); preview != nil {
		payload["originalPreview"] = preview
	}

	out := &event.Envelope{
		ID:            uuid.NewString(),
		CorrelationID: orig.CorrelationID,
		TraceID:       orig.TraceID,
		Type:          EventType,
		Source:        Source,
		Channel:       orig.Channel,
		Payload:       payload,
	}

	// the dead letter shares nothing mutable with the original
	cp := orig.Clone()
	out.Ingress = cp.Ingress
	out.Identity = cp.Identity
	out.Egress = cp.Egress
	if cp.Egress != nil && len(cp.Egress.Metadata) > 0 {
		payload["egressMetadata"] = cp.Egress.Metadata
	}
	return out
}

// NormalizeError converts err into a code and message. Strings and error
// values become messages; errors implementing Code() string keep their code;
// any other value is serialized as the message. A nil err returns nil.
func NormalizeError(err any) *ErrorInfo {
	switch v := err.(type) {
	case nil:
		return nil
	case string:
		return &ErrorInfo{Code: defaultCode, Message: v}
	case event.StepError:
		return stepError(&v)
	case *event.StepError:
		if v == nil {
			return nil
		}
		return stepError(v)
	case error:
		info := &ErrorInfo{Code: defaultCode, Message: v.Error()}
		var c coder
		if errors.As(v, &c) && c.Code() != "" {
			info.Code = c.Code()
		}
		return info
	default:
		b, jerr := json.Marshal(v)
		if jerr != nil {
			return &ErrorInfo{Code: defaultCode, Message: "unserializable error"}
		}
		return &ErrorInfo{Code: defaultCode, Message: string(b)}
	}
}

func stepError(e *event.StepError) *ErrorInfo {
	code := e.Code
	if code == "" {
		code = defaultCode
	}
	return &ErrorInfo{Code: code, Message: e.Message}
}

// previewOf returns the original payload, falling back to the message, when
// it serializes under PreviewLimit; otherwise a truncation marker
func previewOf(orig *event.Envelope) any {
	var subject any
	switch {
	case len(orig.Payload) > 0:
		subject = orig.Payload
	case orig.Message != nil:
		subject = orig.Message
	default:
		return nil
	}

	b, err := json.Marshal(subject)
	if err != nil {
		return map[string]any{"truncated": true, "length": 0}
	}
	if len(b) >= PreviewLimit {
		return map[string]any{"truncated": true, "length": len(b)}
	}
	var preview any
	if err := json.Unmarshal(b, &preview); err != nil {
		return map[string]any{"truncated": true, "length": len(b)}
	}
	return preview
}

// Builder adapts Build to the dead-letter callback of a slip.Advancer
func Builder(evt *event.Envelope, reason string, cause any, lastStepID string) *event.Envelope {
	return Build(Params{
		Original:   evt,
		Reason:     reason,
		Err:        cause,
		LastStepID: lastStepID,
	})
}
