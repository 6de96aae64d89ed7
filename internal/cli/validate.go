package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aescanero/dago-chat-router/internal/eval/cel"
	"github.com/aescanero/dago-chat-router/internal/eval/logic"
	"github.com/aescanero/dago-chat-router/internal/eval/template"
	"github.com/aescanero/dago-chat-router/internal/rules"
)

// Rule statuses reported by validate
const (
	StatusValid    = "valid"
	StatusDisabled = "disabled"
	StatusInvalid  = "invalid"
)

// RuleReport is the validation outcome of one document
type RuleReport struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid bool         `json:"valid"`
	Rules []RuleReport `json:"rules"`
}

// ErrInvalidRules is returned when a rule file has invalid documents
var ErrInvalidRules = errors.New("rule file has invalid rules")

// NewValidateCommand creates the validate command
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <rules-file>",
		Short: "Validate a rule file",
		Long: `Validate a YAML or JSON rule file with the same policy the router
applies when loading rules, and compile every rule expression.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := LoadRuleDocuments(args[0])
			if err != nil {
				return err
			}
			result := Validate(docs)
			if rootOpts.Format == "json" {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			} else {
				for _, r := range result.Rules {
					line := fmt.Sprintf("%-8s %s", r.Status, r.ID)
					if r.Error != "" {
						line += ": " + r.Error
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
					for _, w := range r.Warnings {
						fmt.Fprintf(cmd.OutOrStdout(), "         warning: %s\n", w)
					}
				}
			}
			if !result.Valid {
				return ErrInvalidRules
			}
			return nil
		},
	}
	return cmd
}

// Validate checks docs against the rule policy and compiles their logic.
// Enrichment templates that do not parse are reported as warnings: the
// router emits them verbatim.
func Validate(docs []rules.Document) ValidationResult {
	ev := logic.NewEvaluator(logic.WithCEL(cel.NewEvaluator()))
	templates := template.NewEngine()
	result := ValidationResult{Valid: true, Rules: make([]RuleReport, 0, len(docs))}

	for _, doc := range docs {
		report := RuleReport{ID: doc.ID, Status: StatusValid}
		rule, err := rules.Normalize(doc.ID, doc.Data)
		switch {
		case errors.Is(err, rules.ErrDisabled):
			report.Status = StatusDisabled
		case err != nil:
			report.Status = StatusInvalid
			report.Error = err.Error()
		default:
			if cerr := rule.Compile(ev); cerr != nil {
				report.Status = StatusInvalid
				report.Error = cerr.Error()
			}
			for _, tmpl := range rule.Enrichments.Templates() {
				if terr := templates.ValidateTemplate(tmpl); terr != nil {
					report.Warnings = append(report.Warnings, fmt.Sprintf("template %q: %v", tmpl, terr))
				}
			}
		}
		if report.Status == StatusInvalid {
			result.Valid = false
		}
		result.Rules = append(result.Rules, report)
	}
	return result
}
