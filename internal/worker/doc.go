// Package worker hosts the router: it consumes inbound envelopes from a Redis
// stream, routes each one against the current rule snapshot and publishes it
// to its first hop.
//
// Example usage:
//
//	w := worker.NewWorker(worker.Settings{
//	    WorkerID:        cfg.WorkerID,
//	    DeadLetterTopic: cfg.DeadLetterTopic,
//	}, worker.Deps{
//	    Source:    consumer,
//	    Rules:     cache,
//	    Engine:    engine,
//	    Advancer:  advancer,
//	    Publisher: publisher,
//	}, logger)
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// Every message is acknowledged once handled. Messages that cannot be decoded,
// events no rule matches and envelopes that cannot be published become
// dead-letter events.
//
// Health checks and metrics are served by a separate HTTP server:
//
//	hs := worker.NewHealthServer(8082, checks, cache.Started, registry, logger)
//	hs.Start()
//	defer hs.Stop()
package worker
