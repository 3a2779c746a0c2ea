package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/checkin"
	"github.com/goodtune/playdesk/internal/config"
	"github.com/goodtune/playdesk/internal/feed"
	"github.com/goodtune/playdesk/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	deskEmail     string
	deskPassword  string
	deskBranch    string
	deskWatch     bool
	deskSessionID string
)

var deskCmd = &cobra.Command{
	Use:   "desk",
	Short: "Front-desk commands for the terminal",
	Long:  `Sign in to the play-area API and run the check-in desk from a terminal.`,
}

var deskLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the access token",
	Example: `  playdesk desk login --email desk@example.com
  PLAYDESK_PASSWORD=secret playdesk desk login --email desk@example.com`,
	RunE: runDeskLogin,
}

var deskBranchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches",
	RunE:  runDeskBranches,
}

var deskSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show the active sessions of a branch",
	Long: `Show the active sessions of a branch. Overdue sessions are printed red and
sessions close to their limit yellow. With --watch the list is refreshed and
redrawn until interrupted.`,
	RunE: runDeskSessions,
}

var deskScanCmd = &cobra.Command{
	Use:   "scan CARD",
	Short: "Scan a card and show what the desk would do",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeskScan,
}

var deskCheckInCmd = &cobra.Command{
	Use:   "checkin CARD",
	Short: "Scan a card and check it in",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeskCheckIn,
}

var deskCheckOutCmd = &cobra.Command{
	Use:   "checkout [CARD]",
	Short: "Check out a card, or a session with --session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDeskCheckOut,
}

func init() {
	deskLoginCmd.Flags().StringVar(&deskEmail, "email", "", "Staff email (required)")
	deskLoginCmd.Flags().StringVar(&deskPassword, "password", "", "Password (defaults to $PLAYDESK_PASSWORD)")
	_ = deskLoginCmd.MarkFlagRequired("email")

	for _, c := range []*cobra.Command{deskSessionsCmd, deskScanCmd, deskCheckInCmd, deskCheckOutCmd} {
		c.Flags().StringVar(&deskBranch, "branch", "", "Branch id (defaults to desk.branch_id or your own branch)")
	}
	deskSessionsCmd.Flags().BoolVar(&deskWatch, "watch", false, "Keep refreshing until interrupted")
	deskCheckOutCmd.Flags().StringVar(&deskSessionID, "session", "", "Session id to check out")

	deskCmd.AddCommand(deskLoginCmd, deskBranchesCmd, deskSessionsCmd, deskScanCmd, deskCheckInCmd, deskCheckOutCmd)
	rootCmd.AddCommand(deskCmd)
}

// deskSession is the token file written by desk login.
type deskSession struct {
	AccessToken string    `json:"access_token"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	BranchID    string    `json:"branch_id"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// deskEnv is what every signed-in desk command works with.
type deskEnv struct {
	cfg     *config.Config
	client  *apiclient.Client
	session *deskSession
	logger  zerolog.Logger
}

func sessionFilePath(cfg *config.Config) (string, error) {
	if cfg.Desk.SessionFile != "" {
		return cfg.Desk.SessionFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "playdesk", "session.json"), nil
}

func loadDeskConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	// Terminal output belongs to the table; only warnings are logged.
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	return cfg, logger, nil
}

func openDesk() (*deskEnv, error) {
	cfg, logger, err := loadDeskConfig()
	if err != nil {
		return nil, err
	}

	path, err := sessionFilePath(cfg)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("not signed in; run 'playdesk desk login' first")
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session deskSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session file %s: %w", path, err)
	}
	if !session.ExpiresAt.IsZero() && time.Now().After(session.ExpiresAt) {
		return nil, fmt.Errorf("session expired at %s; sign in again", session.ExpiresAt.Format(time.RFC3339))
	}

	client, err := newAPIClient(cfg.API, logger)
	if err != nil {
		return nil, err
	}

	return &deskEnv{
		cfg:     cfg,
		client:  client.WithToken(session.AccessToken),
		session: &session,
		logger:  logger,
	}, nil
}

// branch resolves the branch of a command: flag, then config, then the
// signed-in user's branch, then the first listed branch.
func (e *deskEnv) branch(ctx context.Context) (string, error) {
	if deskBranch != "" {
		return deskBranch, nil
	}
	if e.cfg.Desk.BranchID != "" {
		return e.cfg.Desk.BranchID, nil
	}

	branches, err := e.client.ListBranches(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list branches: %w", err)
	}
	branch := feed.DefaultBranch(e.session.BranchID, branches)
	if branch == "" {
		return "", fmt.Errorf("no branch available; pass --branch")
	}
	return branch, nil
}

func (e *deskEnv) desk() *checkin.Desk {
	store := memory.New(memory.Options{Size: 16})
	f := feed.New(e.client, store.Snapshots(), nil, feed.Config{}, e.logger)
	return checkin.NewDesk(e.client, store.ScanStates(), "terminal", time.Hour, f, e.logger)
}

func runDeskLogin(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadDeskConfig()
	if err != nil {
		return err
	}

	password := deskPassword
	if password == "" {
		password = os.Getenv("PLAYDESK_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("password is required (--password or $PLAYDESK_PASSWORD)")
	}

	client, err := newAPIClient(cfg.API, logger)
	if err != nil {
		return err
	}

	resp, err := client.Login(cmd.Context(), strings.TrimSpace(deskEmail), password)
	if err != nil {
		return fmt.Errorf("login failed: %s", apiclient.DetailOf(err, err.Error()))
	}

	session := deskSession{
		AccessToken: resp.AccessToken,
		Email:       resp.User.Email,
		Name:        resp.User.Name,
		Role:        strings.ToUpper(resp.User.Role),
		BranchID:    resp.User.BranchID,
		ExpiresAt:   resp.ExpiresAt,
	}

	path, err := sessionFilePath(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}

	_, _ = color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", firstNonBlank(session.Name, session.Email), session.Role)
	return nil
}

func runDeskBranches(cmd *cobra.Command, args []string) error {
	env, err := openDesk()
	if err != nil {
		return err
	}

	branches, err := env.client.ListBranches(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list branches: %s", apiclient.DetailOf(err, err.Error()))
	}

	w := cmd.OutOrStdout()
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Fprintf(w, "%-38s %-24s %s\n", "ID", "NAME", "CITY")
	for _, b := range branches {
		line := fmt.Sprintf("%-38s %-24s %s", b.BranchID, b.Name, b.City)
		if b.BranchID == env.session.BranchID {
			_, _ = color.New(color.Bold).Fprintln(w, line+"  *")
			continue
		}
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func runDeskSessions(cmd *cobra.Command, args []string) error {
	env, err := openDesk()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	branch, err := env.branch(ctx)
	if err != nil {
		return err
	}

	store := memory.New(memory.Options{Size: 4})
	f := feed.New(env.client, store.Snapshots(), nil, feed.Config{
		RefreshInterval:  config.Duration(env.cfg.Feed.RefreshInterval),
		DisplayInterval:  config.Duration(env.cfg.Feed.DisplayInterval),
		NearLimitMinutes: env.cfg.Feed.NearLimitMinutes,
	}, env.logger)

	board, err := f.SelectBranch(ctx, branch)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %s", apiclient.DetailOf(err, err.Error()))
	}

	w := cmd.OutOrStdout()
	if !deskWatch {
		printBoard(w, *board, false)
		return nil
	}

	err = f.Run(ctx, branch, func(b feed.Board) error {
		printBoard(w, b, true)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// printBoard writes the active list as a table. Overdue rows are red and
// rows close to their limit yellow.
func printBoard(w io.Writer, board feed.Board, clear bool) {
	if clear {
		_, _ = fmt.Fprint(w, "\033[H\033[2J")
	}

	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(w, "Branch %s: %d active, %d overdue (updated %s)\n",
		board.BranchID, len(board.Rows), board.OverdueCount, board.FetchedAt.Local().Format("15:04:05"))
	if board.Stale {
		_, _ = red.Fprintln(w, "Data may be out of date: the last refresh failed")
	}
	_, _ = fmt.Fprintln(w)

	_, _ = cyan.Fprintf(w, "%-10s %-20s %-20s %-6s %-13s %8s %8s  %s\n",
		"SESSION", "CHILD", "GUARDIAN", "IN", "PAYMENT", "ELAPSED", "INCL", "STATUS")

	for _, row := range board.Rows {
		status := fmt.Sprintf("%d min left", row.Remaining)
		if row.Meta.IsOverdue {
			status = fmt.Sprintf("OVERDUE %d min", row.Meta.Overdue)
		}

		line := fmt.Sprintf("%-10s %-20s %-20s %-6s %-13s %8d %8d  %s",
			truncate(row.Session.SessionID, 10),
			truncate(row.Session.ChildName, 20),
			truncate(row.Session.GuardianName, 20),
			row.Session.CheckInTime.Local().Format("15:04"),
			row.Session.PaymentType,
			row.Meta.Elapsed,
			row.Meta.Included,
			status,
		)

		switch {
		case row.Meta.IsOverdue:
			_, _ = red.Fprintln(w, line)
		case row.NearLimit:
			_, _ = yellow.Fprintln(w, line)
		default:
			_, _ = fmt.Fprintln(w, line)
		}
	}

	if len(board.Rows) == 0 {
		_, _ = fmt.Fprintln(w, "No active sessions.")
	}
}

func runDeskScan(cmd *cobra.Command, args []string) error {
	env, err := openDesk()
	if err != nil {
		return err
	}

	branch, err := env.branch(cmd.Context())
	if err != nil {
		return err
	}

	view, err := env.desk().Scan(cmd.Context(), args[0], branch)
	if err != nil {
		return err
	}
	printView(cmd.OutOrStdout(), view)
	return nil
}

func runDeskCheckIn(cmd *cobra.Command, args []string) error {
	env, err := openDesk()
	if err != nil {
		return err
	}

	branch, err := env.branch(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	desk := env.desk()
	view, err := desk.Scan(cmd.Context(), args[0], branch)
	if err != nil {
		return err
	}
	printView(w, view)

	if view.Action != checkin.ActionCheckIn {
		return fmt.Errorf("card %s cannot be checked in: %s", args[0], view.Label)
	}

	session, err := desk.CheckIn(cmd.Context())
	if err != nil {
		return fmt.Errorf("check-in failed: %s", apiclient.DetailOf(err, err.Error()))
	}

	_, _ = color.New(color.FgGreen, color.Bold).Fprintf(w, "Checked in %s (session %s, %s)\n",
		firstNonBlank(session.ChildName, session.CardNumber), session.SessionID, session.PaymentType)
	return nil
}

func runDeskCheckOut(cmd *cobra.Command, args []string) error {
	env, err := openDesk()
	if err != nil {
		return err
	}

	if deskSessionID == "" && len(args) == 0 {
		return fmt.Errorf("pass a card number or --session")
	}

	branch, err := env.branch(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	desk := env.desk()

	var summary *apiclient.CheckoutSummary
	if deskSessionID != "" {
		summary, err = desk.CheckOutSession(cmd.Context(), deskSessionID, branch)
	} else {
		view, scanErr := desk.Scan(cmd.Context(), args[0], branch)
		if scanErr != nil {
			return scanErr
		}
		printView(w, view)
		if view.Action != checkin.ActionCheckOut {
			return fmt.Errorf("card %s has no active session to check out", args[0])
		}
		summary, err = desk.CheckOut(cmd.Context())
	}
	if err != nil {
		return fmt.Errorf("check-out failed: %s", apiclient.DetailOf(err, err.Error()))
	}

	printCheckout(w, summary)
	return nil
}

func printView(w io.Writer, view checkin.View) {
	c := color.New(color.Bold)
	switch view.Color {
	case checkin.ColorGreen:
		c = color.New(color.FgGreen, color.Bold)
	case checkin.ColorYellow, checkin.ColorOrange:
		c = color.New(color.FgYellow, color.Bold)
	case checkin.ColorRed:
		c = color.New(color.FgRed, color.Bold)
	case checkin.ColorBlue:
		c = color.New(color.FgBlue, color.Bold)
	}

	_, _ = c.Fprint(w, view.Label)
	if view.Message != "" {
		_, _ = fmt.Fprintf(w, ": %s", view.Message)
	}
	_, _ = fmt.Fprintln(w)

	if customer := view.Result.Customer; customer != nil {
		_, _ = fmt.Fprintf(w, "  Child:    %s\n", customer.ChildName)
		if customer.ChildAgeMonths > 0 {
			_, _ = fmt.Fprintf(w, "  Age:      %s\n", checkin.AgeDisplay(customer.ChildAgeMonths))
		}
		_, _ = fmt.Fprintf(w, "  Guardian: %s %s\n", customer.Guardian.Name, customer.Guardian.Phone)
	}
	if sub := view.Result.Subscription; sub != nil {
		_, _ = fmt.Fprintf(w, "  Subscription: %d day(s) left\n", sub.DaysRemaining)
	}
	if len(view.Fields) > 0 {
		_, _ = fmt.Fprintf(w, "  Register in the console: %s\n", strings.Join(view.Fields, ", "))
	}
}

func printCheckout(w io.Writer, summary *apiclient.CheckoutSummary) {
	_, _ = color.New(color.FgGreen, color.Bold).Fprintf(w, "Checked out %s\n", firstNonBlank(summary.ChildName, summary.SessionID))
	_, _ = fmt.Fprintf(w, "  Duration: %d min (included %d)\n", summary.DurationMinutes, summary.IncludedMinutes)
	if summary.OverdueMinutes > 0 {
		_, _ = color.New(color.FgRed, color.Bold).Fprintf(w, "  Overdue:  %d min, %.2f charged\n", summary.OverdueMinutes, summary.OverdueAmount)
		if summary.OvertimeOrderNumber != "" {
			_, _ = fmt.Fprintf(w, "  Overtime order: %s\n", summary.OvertimeOrderNumber)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
