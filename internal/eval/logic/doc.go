// Package logic evaluates rule expressions: a JSON boolean expression language
// in the JsonLogic style, extended with chat-domain operators.
//
// An expression is decoded from its generic JSON value into a Node tree by
// Compile. Objects with a single key are operator calls, arrays are lists and
// everything else is a literal. Operators are dispatched through a fixed
// registry; an unknown operator is a compile error, and Evaluate turns every
// error (or panic) into false.
//
// Domain operators:
//
//	ci_eq          (a, b)                         case-insensitive equality, null is ""
//	re_test        (text, pattern|[pattern,flags]) regular expression test
//	has_role       (roles, role, caseInsensitive?)
//	has_annotation (annotations, label, value?)
//	has_candidate  (candidates, source?)
//	text_contains  (text, substring, caseInsensitive?)
//	slip_complete  (slip)                         every step OK, slip non-empty
//	cel            (expression)                   CEL over the context, when enabled
//
// Example:
//
//	ev := logic.NewEvaluator()
//	ctx := logic.BuildContext(evt)
//	ok := ev.Evaluate(map[string]any{
//	    "ci_eq": []any{map[string]any{"var": "message.text"}, "!ping"},
//	}, ctx)
package logic
