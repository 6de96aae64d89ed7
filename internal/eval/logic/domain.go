package logic

import "strings"

func registerDomain(ops map[string]operator) {
	ops["ci_eq"] = opCIEq
	ops["re_test"] = opRETest
	ops["has_role"] = opHasRole
	ops["has_annotation"] = opHasAnnotation
	ops["has_candidate"] = opHasCandidate
	ops["text_contains"] = opTextContains
	ops["slip_complete"] = opSlipComplete
}

// ci_eq(a, b): case-insensitive equality, non-strings are stringified
func opCIEq(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	return strings.EqualFold(jsString(arg(values, 0)), jsString(arg(values, 1))), nil
}

// re_test(text, pattern) or re_test(text, [pattern, flags]). An invalid
// pattern is a non-match.
func opRETest(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	var pattern, flags string
	switch p := arg(values, 1).(type) {
	case string:
		pattern = p
	case []any:
		pattern = jsString(arg(p, 0))
		flags = jsString(arg(p, 1))
	default:
		return false, nil
	}
	re, err := s.ev.compileRegex(pattern, flags)
	if err != nil {
		return false, nil
	}
	return re.MatchString(jsString(arg(values, 0))), nil
}

// has_role(roles, role, caseInsensitive?)
func opHasRole(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	roles, ok := arg(values, 0).([]any)
	if !ok {
		return false, nil
	}
	role := jsString(arg(values, 1))
	fold := truthy(arg(values, 2))
	for _, r := range roles {
		candidate, ok := r.(string)
		if !ok {
			continue
		}
		if candidate == role || (fold && strings.EqualFold(candidate, role)) {
			return true, nil
		}
	}
	return false, nil
}

// has_annotation(annotations, label, value?)
func opHasAnnotation(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	annotations, ok := arg(values, 0).([]any)
	if !ok {
		return false, nil
	}
	label := arg(values, 1)
	value := arg(values, 2)
	for _, item := range annotations {
		a, ok := item.(map[string]any)
		if !ok || !strictEquals(a["label"], label) {
			continue
		}
		if value == nil || looseEquals(a["value"], value) {
			return true, nil
		}
	}
	return false, nil
}

// has_candidate(candidates, source?)
func opHasCandidate(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	candidates, ok := arg(values, 0).([]any)
	if !ok || len(candidates) == 0 {
		return false, nil
	}
	source, filtered := arg(values, 1).(string)
	if !filtered || source == "" {
		return true, nil
	}
	for _, item := range candidates {
		if c, ok := item.(map[string]any); ok && c["source"] == source {
			return true, nil
		}
	}
	return false, nil
}

// text_contains(text, substring, caseInsensitive?)
func opTextContains(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	text := jsString(arg(values, 0))
	sub := jsString(arg(values, 1))
	if truthy(arg(values, 2)) {
		text = strings.ToLower(text)
		sub = strings.ToLower(sub)
	}
	return strings.Contains(text, sub), nil
}

// slip_complete(slip): non-empty and every step is OK. SKIP does not count
// as complete here.
func opSlipComplete(s *scope, args []Node) (any, error) {
	values, err := s.evalArgs(args)
	if err != nil {
		return nil, err
	}
	slip, ok := arg(values, 0).([]any)
	if !ok || len(slip) == 0 {
		return false, nil
	}
	for _, item := range slip {
		step, ok := item.(map[string]any)
		if !ok || step["status"] != "OK" {
			return false, nil
		}
	}
	return true, nil
}
