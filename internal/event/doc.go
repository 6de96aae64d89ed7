// Package event defines the canonical envelope that every chat event carries
// through the routing pipeline.
//
// An envelope is created by an ingress connector, mutated by each hop and
// finally delivered through egress. The core never deep-mutates a caller's
// envelope: enrichment works on a Clone.
//
// Example:
//
//	evt := &event.Envelope{
//	    CorrelationID: "c-1",
//	    Type:          "chat.message.v1",
//	    Message:       &event.Message{Text: "!ping"},
//	}
//	out := evt.Clone()
//	out.Annotations = append(out.Annotations, event.Annotation{Label: "command"})
package event
