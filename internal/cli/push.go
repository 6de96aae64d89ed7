package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/rules"
	"github.com/aescanero/dago-chat-router/internal/store/natskv"
)

// PushOptions holds the push command flags
type PushOptions struct {
	NATSURL    string
	Bucket     string
	Collection string
	Prune      bool
	Force      bool
	Timeout    time.Duration
}

// PushResult reports what push changed
type PushResult struct {
	Pushed []string `json:"pushed"`
	Pruned []string `json:"pruned,omitempty"`
}

// NewPushCommand creates the push command
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{}

	cmd := &cobra.Command{
		Use:   "push <rules-file>",
		Short: "Write a rule file to the rule store",
		Long: `Validate a rule file and write every document to the NATS key-value
rule store. Running routers pick the change up through their watch.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := LoadRuleDocuments(args[0])
			if err != nil {
				return err
			}
			if result := Validate(docs); !result.Valid && !opts.Force {
				return fmt.Errorf("%w, use --force to push anyway", ErrInvalidRules)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			nc, err := nats.Connect(opts.NATSURL, nats.Name("rulectl"))
			if err != nil {
				return fmt.Errorf("failed to connect to nats: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create jetstream context: %w", err)
			}
			store, err := natskv.Open(ctx, js, opts.Bucket, zap.NewNop())
			if err != nil {
				return err
			}

			result, err := Push(ctx, store, opts.Collection, docs, opts.Prune)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			for _, id := range result.Pushed {
				fmt.Fprintf(cmd.OutOrStdout(), "pushed   %s\n", id)
			}
			for _, id := range result.Pruned {
				fmt.Fprintf(cmd.OutOrStdout(), "pruned   %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.NATSURL, "nats-url", nats.DefaultURL, "NATS server URL")
	cmd.Flags().StringVar(&opts.Bucket, "bucket", "ROUTER_RULES", "rule key-value bucket")
	cmd.Flags().StringVar(&opts.Collection, "collection", "rules", "rule collection")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "delete stored rules missing from the file")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "push even when some rules are invalid")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "overall timeout")

	return cmd
}

// Push writes docs to collection, optionally deleting stored documents that
// docs does not contain
func Push(ctx context.Context, store *natskv.Store, collection string, docs []rules.Document, prune bool) (*PushResult, error) {
	result := &PushResult{Pushed: make([]string, 0, len(docs))}
	keep := make(map[string]bool, len(docs))

	for _, doc := range docs {
		if err := store.Put(ctx, collection, doc.ID, doc.Data); err != nil {
			return result, err
		}
		keep[doc.ID] = true
		result.Pushed = append(result.Pushed, doc.ID)
	}

	if !prune {
		return result, nil
	}
	stored, err := store.Collection(collection).Get(ctx)
	if err != nil {
		return result, err
	}
	for _, doc := range stored {
		if keep[doc.ID] {
			continue
		}
		if err := store.Delete(ctx, collection, doc.ID); err != nil {
			return result, err
		}
		result.Pruned = append(result.Pruned, doc.ID)
	}
	return result, nil
}
