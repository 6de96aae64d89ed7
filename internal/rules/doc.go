// Package rules loads routing rule documents and keeps an in-memory,
// priority-sorted snapshot of them fresh.
//
// A rule document is data, not code:
//
//	{
//	  "enabled": true,
//	  "priority": 10,
//	  "logic": {"ci_eq": [{"var": "message.text"}, "!ping"]},
//	  "routingSlip": [{"id": "reply", "nextTopic": "internal.reply.v1"}],
//	  "enrichments": {"message": "pong {{identity.user.displayName}}"},
//	  "metadata": {"cooldown": "5s"}
//	}
//
// Normalize validates one document; Build validates, drops and sorts a whole
// collection. Cache warm-loads the collection from a DocumentStore, then
// rebuilds the snapshot on every change-feed notification. Readers get an
// atomically swapped snapshot and never observe a partial rebuild.
//
// Lifecycle:
//
//	cache := rules.NewCache("rules", logger)
//	if err := cache.Start(ctx, store); err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Stop()
//
//	for _, rule := range cache.Rules() {
//	    ...
//	}
package rules
