package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aescanero/dago-chat-router/internal/store/redisstate"
)

// ForgetOptions holds the forget command flags
type ForgetOptions struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Rule          string
	User          string
	Timeout       time.Duration
}

// NewForgetCommand creates the forget command
func NewForgetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForgetOptions{}

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Reset the remembered candidate of a user for a rule",
		Long: `Delete the last candidate recorded for a user and rule, so that the
next random candidate selection may choose any candidate again.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()

			client := redis.NewClient(&redis.Options{
				Addr:     opts.RedisAddr,
				Password: opts.RedisPassword,
				DB:       opts.RedisDB,
			})
			defer client.Close()

			store := redisstate.New(client, 0, zap.NewNop())
			if err := store.Forget(ctx, opts.User, opts.Rule); err != nil {
				return err
			}

			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"rule": opts.Rule, "user": opts.User, "status": "forgotten"})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgotten %s/%s\n", opts.Rule, opts.User)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RedisAddr, "redis-addr", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&opts.RedisPassword, "redis-pass", "", "Redis password")
	cmd.Flags().IntVar(&opts.RedisDB, "redis-db", 0, "Redis database")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "rule id")
	cmd.Flags().StringVar(&opts.User, "user", "", "user id")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "overall timeout")
	_ = cmd.MarkFlagRequired("rule")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
