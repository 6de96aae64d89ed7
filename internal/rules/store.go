package rules

import "context"

// Document is one raw document from a DocumentStore collection
type Document struct {
	ID   string
	Data map[string]any
}

// Collection is a queryable, watchable set of documents
type Collection interface {
	// Get returns every document in the collection
	Get(ctx context.Context) ([]Document, error)

	// OnSnapshot calls fn with the full collection every time it changes
	// until the returned unsubscribe function is called or ctx is done
	OnSnapshot(ctx context.Context, fn func([]Document)) (unsubscribe func(), err error)
}

// DocumentStore resolves collections by path
type DocumentStore interface {
	Collection(path string) Collection
}
