package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/cohortview/internal/cohort"
	"github.com/JonMunkholm/cohortview/internal/session"
	"github.com/JonMunkholm/cohortview/internal/workbook"
)

var (
	loginUsername string
	browsePages   int
	filterWhere   []string
	filterOr      bool
	exportOut     string
	exportWhere   []string
	exportOr      bool
	exportSearch  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the token",
	Long: `Sign in to the cohort API. The password is read from COHORT_PASSWORD
or, when unset, from the first line of stdin.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := app.session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Logged out."))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, ok := app.session.User()
		if !ok {
			return session.ErrNotAuthenticated
		}
		role := "user"
		if user.IsAdmin {
			role = "admin"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", user.Username, role)
		return nil
	},
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List samples page by page",
	Args:  cobra.NoArgs,
	RunE:  runBrowse,
}

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "List samples matching criteria",
	Example: `  cohortctl filter --where "age >= 40" --where "gender == F"
  cohortctl filter --or --where "age < 20" --where "age > 80"`,
	Args: cobra.NoArgs,
	RunE: runFilter,
}

var searchCmd = &cobra.Command{
	Use:   "search TERM",
	Short: "Find samples by id, or by prefix with a trailing *",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the spreadsheet for the selected samples",
	Long: `Download the spreadsheet for the first page of samples, or for the
samples matching --where or --search.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a .csv or .xlsx file (admins only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Username")
	loginCmd.MarkFlagRequired("username")

	browseCmd.Flags().IntVar(&browsePages, "pages", 1, "Number of pages to load")

	filterCmd.Flags().StringArrayVarP(&filterWhere, "where", "w", nil, `Criterion "FIELD OP VALUE" (repeatable)`)
	filterCmd.Flags().BoolVar(&filterOr, "or", false, `Join criteria with "or" instead of "and"`)

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", workbook.ExportFilename, "Output file")
	exportCmd.Flags().StringArrayVarP(&exportWhere, "where", "w", nil, `Criterion "FIELD OP VALUE" (repeatable)`)
	exportCmd.Flags().BoolVar(&exportOr, "or", false, `Join criteria with "or" instead of "and"`)
	exportCmd.Flags().StringVarP(&exportSearch, "search", "s", "", "Search term")
	exportCmd.MarkFlagsMutuallyExclusive("where", "search")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password := os.Getenv("COHORT_PASSWORD")
	if password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	ctx, cancel := callContext(cmd)
	defer cancel()
	if err := app.session.Login(ctx, loginUsername, password); err != nil {
		return err
	}
	user, _ := app.session.User()
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Logged in as "+user.Username+"."))
	return nil
}

// reportedError is a failure already printed as a notification.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

// dispatch runs one event and prints whatever it queued.
func dispatch(cmd *cobra.Command, ev cohort.Event) error {
	ctx, cancel := callContext(cmd)
	defer cancel()
	err := app.coordinator.Dispatch(ctx, ev)
	renderNotes(cmd.ErrOrStderr(), app.inbox.Drain())
	if err != nil {
		return reportedError{err}
	}
	return nil
}

func runBrowse(cmd *cobra.Command, args []string) error {
	if _, err := app.session.RequireToken(); err != nil {
		return err
	}
	if err := dispatch(cmd, cohort.Mount{}); err != nil {
		return err
	}
	for i := 1; i < browsePages && app.coordinator.Snapshot().HasMore; i++ {
		if err := dispatch(cmd, cohort.ScrollNearBottom{}); err != nil {
			return err
		}
	}
	renderView(cmd.OutOrStdout(), app.coordinator.Snapshot())
	return nil
}

func runFilter(cmd *cobra.Command, args []string) error {
	if _, err := app.session.RequireToken(); err != nil {
		return err
	}
	criteria, err := buildCriteria(app.profile, filterWhere, filterOr)
	if err != nil {
		return err
	}
	if err := dispatch(cmd, cohort.SubmitFilter{Criteria: criteria}); err != nil {
		return err
	}
	renderView(cmd.OutOrStdout(), app.coordinator.Snapshot())
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	if _, err := app.session.RequireToken(); err != nil {
		return err
	}
	term := strings.TrimSpace(args[0])
	if term == "" {
		return cohort.ErrEmptySearch
	}
	if err := dispatch(cmd, cohort.SubmitSearch{Term: term}); err != nil {
		return err
	}
	renderView(cmd.OutOrStdout(), app.coordinator.Snapshot())
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if _, err := app.session.RequireToken(); err != nil {
		return err
	}

	var ev cohort.Event = cohort.Mount{}
	switch {
	case len(exportWhere) > 0:
		criteria, err := buildCriteria(app.profile, exportWhere, exportOr)
		if err != nil {
			return err
		}
		ev = cohort.SubmitFilter{Criteria: criteria}
	case strings.TrimSpace(exportSearch) != "":
		ev = cohort.SubmitSearch{Term: exportSearch}
	}
	if err := dispatch(cmd, ev); err != nil {
		return err
	}

	ctx, cancel := callContext(cmd)
	defer cancel()
	data, err := app.coordinator.Export(ctx, app.client)
	renderNotes(cmd.ErrOrStderr(), app.inbox.Drain())
	if errors.Is(err, cohort.ErrNoSamples) {
		return nil
	}
	if err != nil {
		return reportedError{err}
	}

	if err := os.WriteFile(exportOut, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	rows := 0
	if summary, err := workbook.Inspect(data); err == nil {
		rows = summary.Rows()
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("Saved %d rows for %d samples to %s", rows, len(app.coordinator.Samples()), exportOut)))
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	if err := app.session.RequireAdmin(); err != nil {
		return err
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	summary, err := workbook.Validate(path, data)
	if err != nil {
		return err
	}
	for _, s := range summary.Sheets {
		fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(fmt.Sprintf("%s: %d rows, %d columns", s.Name, s.Rows, len(s.Columns))))
	}

	ctx, cancel := callContext(cmd)
	defer cancel()
	msg, err := app.client.Upload(ctx, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	return dispatch(cmd, cohort.UploadSucceeded{Message: msg})
}
