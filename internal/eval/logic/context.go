package logic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aescanero/dago-chat-router/internal/event"
)

// isoLayout matches the millisecond ISO-8601 form used across the platform
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// Context is the read-only projection of an envelope an expression runs
// against. It is built per evaluation and never shared between events.
type Context struct {
	data map[string]any
	raw  []byte
	err  error
}

type contextOptions struct {
	now    string
	ts     int64
	hasTS  bool
	config map[string]any
}

// ContextOption customises BuildContext
type ContextOption func(*contextOptions)

// WithNow overrides the "now" ISO timestamp
func WithNow(now string) ContextOption {
	return func(o *contextOptions) { o.now = now }
}

// WithTS overrides the "ts" epoch milliseconds
func WithTS(ts int64) ContextOption {
	return func(o *contextOptions) {
		o.ts = ts
		o.hasTS = true
	}
}

// WithClock sets both "now" and "ts" from t
func WithClock(t time.Time) ContextOption {
	return func(o *contextOptions) {
		o.now = t.UTC().Format(isoLayout)
		o.ts = t.UnixMilli()
		o.hasTS = true
	}
}

// WithConfig exposes cfg as the "config" variable
func WithConfig(cfg map[string]any) ContextOption {
	return func(o *contextOptions) { o.config = cfg }
}

// BuildContext projects evt into an evaluation context. It is deterministic
// when both WithNow and WithTS (or WithClock) are given.
func BuildContext(evt *event.Envelope, opts ...ContextOption) *Context {
	var o contextOptions
	for _, opt := range opts {
		opt(&o)
	}
	current := time.Now()
	if o.now == "" {
		o.now = current.UTC().Format(isoLayout)
	}
	if !o.hasTS {
		o.ts = current.UnixMilli()
	}

	var errs []error
	data := make(map[string]any)
	if evt != nil {
		if err := roundTrip(evt, &data); err != nil {
			errs = append(errs, fmt.Errorf("event: %w", err))
		}
	}
	for _, key := range []string{"annotations", "candidates", "routingSlip"} {
		if _, ok := data[key]; !ok {
			data[key] = []any{}
		}
	}
	if _, ok := data["metadata"]; !ok {
		data["metadata"] = map[string]any{}
	}

	data["now"] = o.now
	data["ts"] = float64(o.ts)
	config := map[string]any{}
	if o.config != nil {
		// round-trip so config values share the JSON number model
		if err := roundTrip(o.config, &config); err != nil {
			errs = append(errs, fmt.Errorf("config: %w", err))
		}
	}
	data["config"] = config

	raw, err := json.Marshal(data)
	if err != nil {
		errs = append(errs, fmt.Errorf("context: %w", err))
		raw = []byte("{}")
	}
	return &Context{data: data, raw: raw, err: errors.Join(errs...)}
}

func roundTrip(in any, out *map[string]any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Err reports a projection failure. The affected part of the context is then
// empty and rules reading it do not match.
func (c *Context) Err() error {
	if c == nil {
		return nil
	}
	return c.err
}

// Data returns the context as a generic map. Callers must not modify it.
func (c *Context) Data() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return c.data
}

// Get resolves a dotted path such as "identity.user.roles.0"
func (c *Context) Get(path string) (any, bool) {
	if c == nil {
		return nil, false
	}
	if path == "" {
		return c.data, true
	}
	res := gjson.GetBytes(c.raw, escapePath(path))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// escapePath escapes gjson syntax characters inside each dotted segment
func escapePath(path string) string {
	const special = `\*?|#@!=<>%`
	if !strings.ContainsAny(path, special) {
		return path
	}
	var b strings.Builder
	for _, r := range path {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
