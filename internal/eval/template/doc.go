// Package template renders Mustache/Handlebars templates used by rule
// enrichments (outbound messages, annotation labels, candidate text and egress
// destinations).
//
// Rendering goes through Interpolate, which never fails: an undefined variable
// renders as an empty string and a template that does not parse is returned
// unchanged. Values are not HTML-escaped since the output is chat text.
//
// Example usage:
//
//	engine := template.NewEngine()
//
//	data := map[string]interface{}{
//	    "identity": map[string]interface{}{
//	        "user": map[string]interface{}{"displayName": "Ada"},
//	    },
//	}
//
//	out := engine.Interpolate("Hello {{identity.user.displayName}}!", data)
//	// Output: Hello Ada!
//
// Built-in helpers:
//   - uppercase - Convert string to uppercase
//   - lowercase - Convert string to lowercase
//   - trim - Trim whitespace from string
//   - default - Return default value if first arg is empty
//   - eq - Equality comparison
//   - ne - Inequality comparison
//   - gt - Greater than (for numbers)
//   - lt - Less than (for numbers)
//   - contains - Check if string contains substring
//   - join - Join array elements with separator
//   - len - Get length of array/string/map
//
// Example with helpers:
//
//	{{uppercase identity.user.login}}         # "ADA"
//	{{default egress.destination "n/a"}}      # "n/a" if destination is empty
//	{{#if (eq type "chat.message.v1")}}...{{/if}}
//	{{join identity.user.roles ", "}}         # "mod, vip"
package template
