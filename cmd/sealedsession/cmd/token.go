package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sealedsession/config"
	"github.com/jmcleod/sealedsession/session"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue and confirm tokens against the configured store",
	Long: `Commands that run the session engine directly against the configured
store, without a server. Tokens issued here replace the user's current
session exactly as POST /api/v1/sessions would.`,
}

var (
	issueMaxAge  time.Duration
	issuePersist bool
)

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <user-id>",
	Short: "Issue a token for a user and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *session.Engine) error {
			token, err := engine.Create(cmd.Context(), args[0],
				session.WithMaxAge(issueMaxAge),
				session.WithPersist(issuePersist))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		})
	},
}

var tokenConfirmCmd = &cobra.Command{
	Use:   "confirm <token>",
	Short: "Confirm a token and print the user id it belongs to",
	Long:  `Exits with status 1 when the token is not valid.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			userID string
			ok     bool
		)
		err := withEngine(cmd.Context(), func(engine *session.Engine) error {
			userID, ok = engine.Confirm(cmd.Context(), args[0])
			return nil
		})
		if err != nil {
			return err
		}
		if !ok {
			exitf(1, "token is not valid")
		}
		fmt.Fprintln(cmd.OutOrStdout(), userID)
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "End a user's session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *session.Engine) error {
			return engine.Revoke(cmd.Context(), args[0])
		})
	},
}

var tokenPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every expired session from the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(engine *session.Engine) error {
			n, err := engine.PurgeExpired(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired session(s)\n", n)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd, tokenConfirmCmd, tokenRevokeCmd, tokenPurgeCmd)
	tokenIssueCmd.Flags().DurationVar(&issueMaxAge, "max-age", 0, "Session lifetime, 0 for no expiry")
	tokenIssueCmd.Flags().BoolVar(&issuePersist, "persist", true, "Write the session to the store")
}

// withEngine opens the configured store and engine, runs fn and closes both.
// The engine logs to stderr only at warn level and above so command output
// stays clean.
func withEngine(ctx context.Context, fn func(*session.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return runWithEngine(ctx, cfg, os.Stderr, fn)
}

func runWithEngine(ctx context.Context, cfg *config.Config, logOut io.Writer, fn func(*session.Engine) error) error {
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer store.Close()

	engine, err := openEngine(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	return fn(engine)
}
