package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/eval/cel"
	"github.com/aescanero/dago-chat-router/internal/eval/logic"
	"github.com/aescanero/dago-chat-router/internal/router"
	"github.com/aescanero/dago-chat-router/internal/rules"
)

// RouteOptions holds the route command flags
type RouteOptions struct {
	RulesFile string
	EventFile string
	Config    map[string]string
}

// NewRouteCommand creates the route command
func NewRouteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RouteOptions{}

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Dry-run routing of an event against a rule file",
		Long: `Route one event against the rules of a file without publishing
anything, and print the decision, the routing slip and the enriched event.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := DryRun(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			d := res.Decision
			if d.Matched {
				fmt.Fprintf(out, "matched  %s\n", d.RuleID)
			} else {
				fmt.Fprintln(out, "matched  none")
			}
			fmt.Fprintf(out, "topic    %s\n", d.SelectedTopic)
			fmt.Fprintf(out, "all      %s\n", strings.Join(d.MatchedRuleIDs, ", "))
			for _, step := range res.Slip {
				fmt.Fprintf(out, "step     %s -> %s\n", step.ID, step.NextTopic)
			}
			if res.Event.Message != nil {
				fmt.Fprintf(out, "message  %s\n", res.Event.Message.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RulesFile, "rules", "", "rule file (YAML or JSON)")
	cmd.Flags().StringVar(&opts.EventFile, "event", "", "event file (YAML or JSON)")
	cmd.Flags().StringToStringVar(&opts.Config, "config", nil, "values exposed to expressions as config (key=value)")
	_ = cmd.MarkFlagRequired("rules")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

// DryRun loads the files of opts and routes the event
func DryRun(ctx context.Context, opts *RouteOptions) (*router.Result, error) {
	docs, err := LoadRuleDocuments(opts.RulesFile)
	if err != nil {
		return nil, err
	}
	evt, err := LoadEnvelope(opts.EventFile)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	ev := logic.NewEvaluator(logic.WithCEL(cel.NewEvaluator()))
	ruleSet := rules.Build(docs, logger)

	cfg := make(map[string]any, len(opts.Config))
	for k, v := range opts.Config {
		cfg[k] = v
	}
	return router.NewEngine(ev, logger).Route(ctx, evt, ruleSet, cfg)
}
