package logic

import (
	"encoding/json"
	"fmt"
)

// Node is a compiled expression
type Node interface {
	node()
}

type literal struct {
	value any
}

type list struct {
	items []Node
}

type call struct {
	op   string
	args []Node
}

func (literal) node() {}
func (list) node()    {}
func (call) node()    {}

// Compile decodes a generic JSON value into a Node tree. Unknown operators are
// rejected.
func (e *Evaluator) Compile(logic any) (Node, error) {
	switch v := logic.(type) {
	case map[string]any:
		if len(v) != 1 {
			return literal{value: normalize(v)}, nil
		}
		for op, rawArgs := range v {
			if _, ok := e.ops[op]; !ok {
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			var argValues []any
			if arr, ok := rawArgs.([]any); ok {
				argValues = arr
			} else {
				argValues = []any{rawArgs}
			}
			args := make([]Node, len(argValues))
			for i, a := range argValues {
				n, err := e.Compile(a)
				if err != nil {
					return nil, fmt.Errorf("%s argument %d: %w", op, i, err)
				}
				args[i] = n
			}
			if op == "cel" && e.cel != nil && len(args) > 0 {
				if lit, ok := args[0].(literal); ok {
					if src, ok := lit.value.(string); ok {
						if err := e.cel.Check(src); err != nil {
							return nil, fmt.Errorf("cel: %w", err)
						}
					}
				}
			}
			return call{op: op, args: args}, nil
		}
	case []any:
		items := make([]Node, len(v))
		for i, item := range v {
			n, err := e.Compile(item)
			if err != nil {
				return nil, err
			}
			items[i] = n
		}
		return list{items: items}, nil
	case Node:
		return v, nil
	}
	return literal{value: normalize(logic)}, nil
}

// normalize maps Go numeric types onto the JSON float64 model and converts
// typed slices and maps into their generic form
func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return val.String()
		}
		return f
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	}
	return v
}
