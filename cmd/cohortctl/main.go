// Command cohortctl browses, filters, exports and uploads cohort data from
// the terminal against the same API as the web browser.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cohortview/internal/api"
	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/config"
	"github.com/JonMunkholm/cohortview/internal/logging"
	"github.com/JonMunkholm/cohortview/internal/session"
)

var (
	verbose bool
	timeout time.Duration

	// app is built by the root command before any subcommand runs.
	app *cli
)

// cli bundles what the subcommands share.
type cli struct {
	cfg         *config.ClientConfig
	profile     cohort.Profile
	session     *session.Session
	client      *api.Client
	inbox       *cohort.Inbox
	coordinator *cohort.Coordinator
}

var rootCmd = &cobra.Command{
	Use:   "cohortctl",
	Short: "Browse and export cohort data",
	Long: `cohortctl talks to the cohort API.

Sign in once with "cohortctl login"; the token is kept in the credentials
file (COHORT_CREDENTIALS_FILE, default ~/.cohortview/credentials.yaml) under
the profile named by COHORT_PROFILE.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logging.SetupWriter(os.Stderr, level, cfg.Logging.Format)
		if !cmd.Flags().Changed("timeout") {
			timeout = cfg.API.Timeout
		}

		a, err := newCLI(cfg)
		if err != nil {
			return err
		}
		app = a

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return app.session.Hydrate(ctx)
	},
}

func newCLI(cfg *config.ClientConfig) (*cli, error) {
	profile, err := config.LoadProfile(cfg.View.ProfilePath)
	if err != nil {
		return nil, err
	}

	base, err := api.New(cfg.API.URL, api.WithLogger(slog.Default()))
	if err != nil {
		return nil, err
	}

	log := slog.Default().With("profile", cfg.Profile)
	sess := session.New(cfg.Profile, base, session.NewFileStore(cfg.CredentialsFile), log)
	client := base.ForSession(sess)
	inbox := cohort.NewInbox(0)

	return &cli{
		cfg:     cfg,
		profile: profile,
		session: sess,
		client:  client,
		inbox:   inbox,
		coordinator: cohort.NewCoordinator(client, cohort.Options{
			Profile:  profile,
			PageSize: cfg.API.PageSize,
			Notifier: inbox,
			Logger:   log,
		}),
	}, nil
}

// callContext bounds one API call.
func callContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", api.DefaultTimeout, "Per-request timeout")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(uploadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			slog.Debug("command failed", "error", err)
			fmt.Fprintln(os.Stderr, errorStyle.Render(cohort.FormatUserError(err)))
		}
		os.Exit(1)
	}
}
