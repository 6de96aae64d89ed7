// Package cel provides the CEL (Common Expression Language) evaluator behind
// the "cel" operator of rule expressions.
//
// Every key of the evaluation context is declared as a top-level dynamic
// variable. "type" is a CEL builtin, so the event type is exposed as
// eventType. A rule can write:
//
//	{"cel": "message.text.startsWith('!') && 'mod' in identity.user.roles"}
//
// Compiled programs are kept in a bounded LRU. Check compiles without
// evaluating and is used when rules are loaded.
//
// Example usage:
//
//	evaluator := cel.NewEvaluator()
//
//	ok, err := evaluator.EvaluateBool("eventType == 'chat.message.v1'", map[string]any{
//	    "type": "chat.message.v1",
//	})
package cel
