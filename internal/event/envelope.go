package event

import (
	"encoding/json"
	"maps"
	"slices"
)

// Envelope is the canonical event passed between services
type Envelope struct {
	ID            string         `json:"id,omitempty"`
	CorrelationID string         `json:"correlationId"`
	TraceID       string         `json:"traceId,omitempty"`
	Type          string         `json:"type"`
	Source        string         `json:"source,omitempty"`
	Channel       string         `json:"channel,omitempty"`
	Ingress       *Ingress       `json:"ingress,omitempty"`
	Identity      *Identity      `json:"identity,omitempty"`
	Message       *Message       `json:"message,omitempty"`
	Annotations   []Annotation   `json:"annotations,omitempty"`
	Candidates    []Candidate    `json:"candidates,omitempty"`
	Egress        *Egress        `json:"egress,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RoutingSlip   []RoutingStep  `json:"routingSlip,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Ingress describes where the event entered the system
type Ingress struct {
	Platform   string `json:"platform,omitempty"`
	Channel    string `json:"channel,omitempty"`
	ReceivedAt string `json:"receivedAt,omitempty"`
}

// Identity describes the actor behind the event
type Identity struct {
	User *User `json:"user,omitempty"`
}

// User is the platform user that produced the event
type User struct {
	ID          string   `json:"id,omitempty"`
	Login       string   `json:"login,omitempty"`
	DisplayName string   `json:"displayName,omitempty"`
	Roles       []string `json:"roles,omitempty"`
}

// Message carries the text and the structured platform payload
type Message struct {
	Text string          `json:"text"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Annotation is a machine-readable tag attached to an event
type Annotation struct {
	ID     string  `json:"id,omitempty"`
	Kind   string  `json:"kind,omitempty"`
	Label  string  `json:"label"`
	Value  string  `json:"value,omitempty"`
	Score  float64 `json:"score,omitempty"`
	Source string  `json:"source,omitempty"`
}

// Candidate is a proposed outbound content
type Candidate struct {
	ID       string  `json:"id,omitempty"`
	Kind     string  `json:"kind,omitempty"`
	Source   string  `json:"source,omitempty"`
	Status   string  `json:"status,omitempty"`
	Priority float64 `json:"priority,omitempty"`
	Text     string  `json:"text"`
	Reason   string  `json:"reason,omitempty"`
}

// Egress describes where and how the event is delivered
type Egress struct {
	Destination string         `json:"destination"`
	Type        string         `json:"type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UserID returns the identity user id, or "" when unknown
func (e *Envelope) UserID() string {
	if e == nil || e.Identity == nil || e.Identity.User == nil {
		return ""
	}
	return e.Identity.User.ID
}

// Clone returns a copy whose slices, maps and nested structs can be modified
// without touching the receiver. JSON-typed values inside Metadata and Payload
// are shared.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	if e.Ingress != nil {
		in := *e.Ingress
		out.Ingress = &in
	}
	if e.Identity != nil {
		id := *e.Identity
		if e.Identity.User != nil {
			u := *e.Identity.User
			u.Roles = slices.Clone(u.Roles)
			id.User = &u
		}
		out.Identity = &id
	}
	if e.Message != nil {
		m := *e.Message
		m.Raw = slices.Clone(m.Raw)
		out.Message = &m
	}
	out.Annotations = slices.Clone(e.Annotations)
	out.Candidates = slices.Clone(e.Candidates)
	if e.Egress != nil {
		eg := *e.Egress
		eg.Metadata = maps.Clone(eg.Metadata)
		out.Egress = &eg
	}
	out.Metadata = maps.Clone(e.Metadata)
	out.Payload = maps.Clone(e.Payload)
	out.RoutingSlip = CloneSlip(e.RoutingSlip)
	return &out
}

// SetMetadata sets a metadata key, allocating the map on first use
func (e *Envelope) SetMetadata(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}
