// Package natskv serves rule documents from a NATS JetStream key-value
// bucket.
//
// A collection path maps to a key prefix: document "greet" of collection
// "rules" is stored under key "rules.greet" as a JSON object. The change feed
// is a KV watch over "<path>.>" that replays the current values first, so
// subscribers always receive complete snapshots.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/rules"
)

// Store is a rules.DocumentStore over one KV bucket
type Store struct {
	kv     jetstream.KeyValue
	logger *zap.Logger
}

// New wraps an existing bucket
func New(kv jetstream.KeyValue, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

// Open creates bucket if needed and returns a store over it
func Open(ctx context.Context, js jetstream.JetStream, bucket string, logger *zap.Logger) (*Store, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "routing rule documents",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open kv bucket %s: %w", bucket, err)
	}
	return New(kv, logger.With(zap.String("bucket", bucket))), nil
}

// Collection implements rules.DocumentStore
func (s *Store) Collection(path string) rules.Collection {
	return s.collection(path)
}

func (s *Store) collection(path string) *Collection {
	return &Collection{
		kv:     s.kv,
		prefix: path + ".",
		logger: s.logger.With(zap.String("collection", path)),
	}
}

// Put writes a document
func (s *Store) Put(ctx context.Context, path, id string, data map[string]any) error {
	return s.collection(path).Put(ctx, id, data)
}

// Delete removes a document
func (s *Store) Delete(ctx context.Context, path, id string) error {
	return s.collection(path).Delete(ctx, id)
}

// Collection is the set of documents under one key prefix
type Collection struct {
	kv     jetstream.KeyValue
	prefix string
	logger *zap.Logger
}

// Get returns every document of the collection ordered by id
func (c *Collection) Get(ctx context.Context) ([]rules.Document, error) {
	keys, err := c.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []rules.Document{}, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	docs := make([]rules.Document, 0, len(keys))
	for _, key := range keys {
		id, ok := strings.CutPrefix(key, c.prefix)
		if !ok || id == "" {
			continue
		}
		entry, err := c.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get %s: %w", key, err)
		}
		data, err := decode(entry.Value())
		if err != nil {
			c.logger.Warn("skipping undecodable document", zap.String("key", key), zap.Error(err))
			continue
		}
		docs = append(docs, rules.Document{ID: id, Data: data})
	}
	sortDocuments(docs)
	return docs, nil
}

// OnSnapshot watches the collection and calls fn with the full document set
// once the current values are replayed and after every change
func (c *Collection) OnSnapshot(ctx context.Context, fn func([]rules.Document)) (func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := c.kv.Watch(watchCtx, c.prefix+">")
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s>: %w", c.prefix, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watch(watchCtx, watcher, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := watcher.Stop(); err != nil {
				c.logger.Debug("failed to stop watcher", zap.Error(err))
			}
			wg.Wait()
		})
	}, nil
}

func (c *Collection) watch(ctx context.Context, watcher jetstream.KeyWatcher, fn func([]rules.Document)) {
	docs := make(map[string]rules.Document)
	replaying := true

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			// nil marks the end of the initial replay
			if entry == nil {
				replaying = false
				fn(snapshot(docs))
				continue
			}

			id := strings.TrimPrefix(entry.Key(), c.prefix)
			switch entry.Operation() {
			case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
				delete(docs, id)
			default:
				data, err := decode(entry.Value())
				if err != nil {
					c.logger.Warn("dropping undecodable document", zap.String("key", entry.Key()), zap.Error(err))
					delete(docs, id)
				} else {
					docs[id] = rules.Document{ID: id, Data: data}
				}
			}
			if !replaying {
				fn(snapshot(docs))
			}
		}
	}
}

// Put writes document id as JSON
func (c *Collection) Put(ctx context.Context, id string, data map[string]any) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", id, err)
	}
	if _, err := c.kv.Put(ctx, c.prefix+id, value); err != nil {
		return fmt.Errorf("failed to put document %s: %w", id, err)
	}
	return nil
}

// Delete removes document id
func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := c.kv.Delete(ctx, c.prefix+id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func decode(value []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.New("document is not an object")
	}
	return data, nil
}

func snapshot(docs map[string]rules.Document) []rules.Document {
	out := make([]rules.Document, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc)
	}
	sortDocuments(out)
	return out
}

func sortDocuments(docs []rules.Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
