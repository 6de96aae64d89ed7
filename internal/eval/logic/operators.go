package logic

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

func registerStandard(ops map[string]operator) {
	ops["var"] = opVar
	ops["missing"] = opMissing
	ops["missing_some"] = opMissingSome
	ops["if"] = opIf
	ops["?:"] = opIf
	ops["=="] = binary(func(a, b any) any { return looseEquals(a, b) })
	ops["!="] = binary(func(a, b any) any { return !looseEquals(a, b) })
	ops["==="] = binary(func(a, b any) any { return strictEquals(a, b) })
	ops["!=="] = binary(func(a, b any) any { return !strictEquals(a, b) })
	ops["!"] = unary(func(a any) any { return !truthy(a) })
	ops["!!"] = unary(func(a any) any { return truthy(a) })
	ops["and"] = opAnd
	ops["or"] = opOr
	ops["<"] = between(lessThan)
	ops["<="] = between(lessOrEqual)
	ops[">"] = binary(func(a, b any) any { return lessThan(b, a) })
	ops[">="] = binary(func(a, b any) any { return lessOrEqual(b, a) })
	ops["+"] = opAdd
	ops["-"] = opSub
	ops["*"] = opMul
	ops["/"] = binary(func(a, b any) any { return toNumber(a) / toNumber(b) })
	ops["%"] = binary(func(a, b any) any { return math.Mod(toNumber(a), toNumber(b)) })
	ops["min"] = minMax(math.Min)
	ops["max"] = minMax(math.Max)
	ops["in"] = binary(opIn)
	ops["cat"] = opCat
	ops["substr"] = opSubstr
	ops["merge"] = opMerge
	ops["map"] = opMap
	ops["filter"] = opFilter
	ops["reduce"] = opReduce
	ops["all"] = opAll
	ops["some"] = opSome
	ops["none"] = opNone
}

func arg(values []any, i int) any {
	if i < len(values) {
		return values[i]
	}
	return nil
}

func unary(fn func(a any) any) operator {
	return func(s *scope, args []Node) (any, error) {
		values, err := s.evalArgs(args)
		if err != nil {
			return nil, err
		}
		return fn(arg(values, 0)), nil
	}
}

func binary(fn func(a, b any) any) operator {
	return func(s *scope, args []Node) (any, error) {
		values, err := s.evalArgs(args)
		if err != nil {
			return nil, err
		}
		return fn(arg(values, 0), arg(values, 1)), nil
	}
}

// between supports the three-argument form a < b < c
func between(cmp func(a, b any) bool) operator {
	return func(s *scope, args []Node) (any, error) {
		values, err := s.evalArgs(args)
		if err != nil {
			return nil, err
		}
		if len(values) >= 3 {
			return cmp(values[0], values[1]) && cmp(values[1], values[2]), nil
		}
		return cmp(arg(values, 0), arg(values, 1)), nil
	}
}

func opVar(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	path := ""
	if p := arg(values, 0); p != nil {
		path = jsString(p)
	}
	if v, ok := s.lookup(path); ok && v != nil {
		return v, nil
	}
	return arg(values, 1), nil
}

func (s *scope) missingPaths(paths []any) []any {
	missing := []any{}
	for _, p := range paths {
		v, ok := s.lookup(jsString(p))
		if !ok || v == nil || v == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

func opMissing(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	paths := values
	if len(values) > 0 {
		if arr, ok := values[0].([]any); ok {
			paths = arr
		}
	}
	return s.missingPaths(paths), nil
}

func opMissingSome(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	need := toNumber(arg(values, 0))
	paths, _ := arg(values, 1).([]any)
	missing := s.missingPaths(paths)
	if float64(len(paths)-len(missing)) >= need {
		return []any{}, nil
	}
	return missing, nil
}

func opIf(s *scope, args []Node) (any, error) {
	i := 0
	for ; i+1 < len(args); i += 2 {
		cond, err := s.eval(args[i])
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return s.eval(args[i+1])
		}
	}
	if i < len(args) {
		return s.eval(args[i])
	}
	return nil, nil
}

func opAnd(s *scope, args []Node) (any, error) {
	var last any
	for _, a := range args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		if !truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func opOr(s *scope, args []Node) (any, error) {
	var last any
	for _, a := range args {
		v, err := s.eval(a)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return v, nil
		}
		last = v
	}
	return last, nil
}

func opAdd(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	sum := 0.0
	for _, v := range values {
		sum += toNumber(v)
	}
	return sum, nil
}

func opSub(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	if len(values) == 1 {
		return -toNumber(values[0]), nil
	}
	return toNumber(arg(values, 0)) - toNumber(arg(values, 1)), nil
}

func opMul(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	product := 1.0
	for _, v := range values {
		product *= toNumber(v)
	}
	return product, nil
}

func minMax(pick func(a, b float64) float64) operator {
	return func(s *scope, args []Node) (any, error) {
		values, err := s.evalArgs(args)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, nil
		}
		result := toNumber(values[0])
		for _, v := range values[1:] {
			result = pick(result, toNumber(v))
		}
		return result, nil
	}
}

func opIn(a, b any) any {
	switch container := b.(type) {
	case string:
		return strings.Contains(container, jsString(a))
	case []any:
		for _, item := range container {
			if strictEquals(item, a) {
				return true
			}
		}
	}
	return false
}

func opCat(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, v := range values {
		b.WriteString(jsString(v))
	}
	return b.String(), nil
}

func opSubstr(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	runes := []rune(jsString(arg(values, 0)))
	n := len(runes)

	start := int(toNumber(arg(values, 1)))
	if start < 0 {
		start = max(n+start, 0)
	}
	start = min(start, n)

	end := n
	if l := arg(values, 2); l != nil {
		length := int(toNumber(l))
		if length < 0 {
			end = max(n+length, start)
		} else {
			end = min(start+length, n)
		}
	}
	return string(runes[start:end]), nil
}

func opMerge(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for _, v := range values {
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
		} else {
			out = append(out, v)
		}
	}
	return out, nil
}

// items evaluates the first argument of an array operator
func (s *scope) items(args []Node) ([]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	v, err := s.eval(args[0])
	if err != nil {
		return nil, err
	}
	arr, _ := v.([]any)
	return arr, nil
}

func opMap(s *scope, args []Node) (any, error) {
	arr, err := s.items(args)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(arr))
	if len(args) < 2 {
		return out, nil
	}
	for _, item := range arr {
		v, err := s.with(item).eval(args[1])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func opFilter(s *scope, args []Node) (any, error) {
	arr, err := s.items(args)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(arr))
	if len(args) < 2 {
		return out, nil
	}
	for _, item := range arr {
		v, err := s.with(item).eval(args[1])
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			out = append(out, item)
		}
	}
	return out, nil
}

func opReduce(s *scope, args []Node) (any, error) {
	arr, err := s.items(args)
	if err != nil {
		return nil, err
	}
	var acc any
	if len(args) > 2 {
		if acc, err = s.eval(args[2]); err != nil {
			return nil, err
		}
	}
	if len(args) < 2 {
		return acc, nil
	}
	for _, item := range arr {
		acc, err = s.with(map[string]any{"current": item, "accumulator": acc}).eval(args[1])
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// countMatches returns how many elements satisfy the predicate and the total
func countMatches(s *scope, args []Node) (int, int, error) {
	arr, err := s.items(args)
	if err != nil {
		return 0, 0, err
	}
	if len(args) < 2 {
		return 0, len(arr), nil
	}
	matched := 0
	for _, item := range arr {
		v, err := s.with(item).eval(args[1])
		if err != nil {
			return 0, 0, err
		}
		if truthy(v) {
			matched++
		}
	}
	return matched, len(arr), nil
}

func opAll(s *scope, args []Node) (any, error) {
	matched, total, err := countMatches(s, args)
	if err != nil {
		return nil, err
	}
	return total > 0 && matched == total, nil
}

func opSome(s *scope, args []Node) (any, error) {
	matched, _, err := countMatches(s, args)
	if err != nil {
		return nil, err
	}
	return matched > 0, nil
}

func opNone(s *scope, args []Node) (any, error) {
	matched, _, err := countMatches(s, args)
	if err != nil {
		return nil, err
	}
	return matched == 0, nil
}

// walk resolves a dotted path against a generic JSON value
func walk(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	cur := data
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		case string:
			// index into a string like JavaScript does
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= utf8.RuneCountInString(node) {
				return nil, false
			}
			cur = string([]rune(node)[i])
		default:
			return nil, false
		}
	}
	return cur, true
}
