// Package slip implements the routing-slip protocol: the ordered list of
// hops attached to an event and the operations that move an event from one
// hop to the next.
//
// A step is PENDING until the service consuming it records OK, ERROR or SKIP.
// The slip is actionable at its first step that is neither OK nor SKIP.
//
// Helpers (EnsureSlip, FindNextActionable, MarkStepStarted, MarkStepResult,
// IsComplete, SummarizeSlip) operate on a slip in place. The Advancer
// publishes an envelope to its next hop:
//
//	adv := slip.NewAdvancer(publisher, logger,
//	    slip.WithSource("router-1"),
//	    slip.WithEgressTopic("internal.egress.v1"),
//	)
//	pub, err := adv.Advance(ctx, evt, event.StatusOK)
//
// Advance and Complete are idempotent per envelope instance within a time
// window; a failed publish releases the claim so the call can be retried.
package slip
