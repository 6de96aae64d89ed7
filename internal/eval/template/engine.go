package template

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aymerick/raymond"
)

var registerOnce sync.Once

// Engine renders Handlebars templates
type Engine struct {
	cache map[string]*raymond.Template
	mu    sync.RWMutex
}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	// raymond keeps helpers in a process-wide registry and panics on
	// duplicate registration
	registerOnce.Do(registerHelpers)

	return &Engine{
		cache: make(map[string]*raymond.Template),
	}
}

// Render renders a template with the given data
func (e *Engine) Render(templateStr string, data map[string]interface{}) (string, error) {
	// Get or compile template
	tmpl, err := e.getTemplate(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to compile template: %w", err)
	}

	// Execute the template
	result, err := tmpl.Exec(safeData(data))
	if err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return result, nil
}

// Interpolate renders templateStr and never fails. A template that cannot be
// compiled or executed is returned as is.
func (e *Engine) Interpolate(templateStr string, data map[string]interface{}) string {
	if !strings.Contains(templateStr, "{{") {
		return templateStr
	}
	out, err := e.Render(templateStr, data)
	if err != nil {
		return templateStr
	}
	return out
}

// getTemplate gets a compiled template from cache or compiles it
func (e *Engine) getTemplate(templateStr string) (*raymond.Template, error) {
	// Check cache first (read lock)
	e.mu.RLock()
	if tmpl, ok := e.cache[templateStr]; ok {
		e.mu.RUnlock()
		return tmpl, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if tmpl, ok := e.cache[templateStr]; ok {
		return tmpl, nil
	}

	tmpl, err := raymond.Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	e.cache[templateStr] = tmpl

	return tmpl, nil
}

// ValidateTemplate validates a template without rendering it
func (e *Engine) ValidateTemplate(templateStr string) error {
	_, err := raymond.Parse(templateStr)
	return err
}

// Cached reports how many compiled templates are held
func (e *Engine) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// safeData copies data marking every string as a raymond.SafeString so that
// mustache expressions are not HTML-escaped
func safeData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = safeValue(v)
	}
	return out
}

func safeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return raymond.SafeString(val)
	case map[string]interface{}:
		return safeData(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = safeValue(item)
		}
		return out
	case []string:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = raymond.SafeString(item)
		}
		return out
	default:
		return v
	}
}

// str converts a helper argument to its string form
func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return raymond.Str(v)
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	f, err := strconv.ParseFloat(str(v), 64)
	if err != nil {
		return 0
	}
	return f
}

// registerHelpers registers custom Handlebars helpers
func registerHelpers() {
	raymond.RegisterHelper("uppercase", func(s interface{}) raymond.SafeString {
		return raymond.SafeString(strings.ToUpper(str(s)))
	})

	raymond.RegisterHelper("lowercase", func(s interface{}) raymond.SafeString {
		return raymond.SafeString(strings.ToLower(str(s)))
	})

	raymond.RegisterHelper("trim", func(s interface{}) raymond.SafeString {
		return raymond.SafeString(strings.TrimSpace(str(s)))
	})

	// default helper - return default value if first arg is empty
	raymond.RegisterHelper("default", func(value interface{}, defaultValue interface{}) interface{} {
		if str(value) == "" {
			return defaultValue
		}
		return value
	})

	raymond.RegisterHelper("eq", func(a, b interface{}) bool {
		return str(a) == str(b)
	})

	raymond.RegisterHelper("ne", func(a, b interface{}) bool {
		return str(a) != str(b)
	})

	raymond.RegisterHelper("gt", func(a, b interface{}) bool {
		return num(a) > num(b)
	})

	raymond.RegisterHelper("lt", func(a, b interface{}) bool {
		return num(a) < num(b)
	})

	raymond.RegisterHelper("contains", func(s, substr interface{}) bool {
		return strings.Contains(str(s), str(substr))
	})

	raymond.RegisterHelper("join", func(arr []interface{}, sep interface{}) raymond.SafeString {
		strs := make([]string, len(arr))
		for i, v := range arr {
			strs[i] = str(v)
		}
		return raymond.SafeString(strings.Join(strs, str(sep)))
	})

	raymond.RegisterHelper("len", func(value interface{}) int {
		switch v := value.(type) {
		case string:
			return len(v)
		case raymond.SafeString:
			return len(v)
		case []interface{}:
			return len(v)
		case map[string]interface{}:
			return len(v)
		default:
			return 0
		}
	})
}
