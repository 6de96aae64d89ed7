// Package router implements the rule engine that decides where an inbound
// event goes next.
//
// Route evaluates every cached rule against one event, in cache order, and
// records each match for audit. Only the first match is applied: its routing
// slip becomes the event's plan and its enrichments (message, annotations,
// candidates and egress) are applied to a copy of the event. When nothing
// matches the event gets a single-step slip pointing at the dead-letter
// topic.
//
// Example:
//
//	engine := router.NewEngine(evaluator, logger,
//	    router.WithStateStore(stateStore),
//	    router.WithDeadLetterTopic("internal.deadletter.v1"),
//	)
//	res, err := engine.Route(ctx, evt, cache.Rules(), nil)
//	if err != nil {
//	    return err
//	}
//	// res.Decision.SelectedTopic, res.Event.RoutingSlip
//
// Route never modifies the input event.
package router
