package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/playdesk/internal/access"
	"github.com/goodtune/playdesk/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var checkPolicyDir string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check access policy decisions",
	Long:  `Check what the access policy allows for a staff role.`,
}

var checkAccessCmd = &cobra.Command{
	Use:   "access [flags] ROLE [ACTION...]",
	Short: "Check which actions a role may perform",
	Long: `Evaluate the access policy for a role. Without actions, every action the
role may perform is listed.`,
	Example: `  playdesk check access CASHIER
  playdesk check access attendant pos checkin
  playdesk check access --policy-dir ./policies MANAGER users.manage`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheckAccess,
}

func init() {
	checkAccessCmd.Flags().StringVar(&checkPolicyDir, "policy-dir", "", "Policy directory (defaults to access.policy_dir from the config)")

	checkCmd.AddCommand(checkAccessCmd)
	rootCmd.AddCommand(checkCmd)
}

func runCheckAccess(cmd *cobra.Command, args []string) error {
	policyDir := checkPolicyDir
	if policyDir == "" {
		if cfg, err := config.Load(configPath); err == nil {
			policyDir = cfg.Access.PolicyDir
		}
	}

	engine, err := access.NewEngine(policyDir, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to load access policy: %w", err)
	}

	ctx := context.Background()
	role := strings.ToUpper(strings.TrimSpace(args[0]))
	actions := args[1:]

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Printf("Role: %s\n", role)
	if policyDir == "" {
		_, _ = fmt.Fprintln(os.Stdout, "Policy: built-in")
	} else {
		_, _ = fmt.Fprintf(os.Stdout, "Policy: %s\n", policyDir)
	}
	_, _ = fmt.Fprintln(os.Stdout)

	if len(actions) == 0 {
		allowed, err := engine.Actions(ctx, role)
		if err != nil {
			return fmt.Errorf("failed to evaluate actions: %w", err)
		}
		if len(allowed) == 0 {
			_, _ = color.New(color.FgRed).Println("No actions allowed")
			return nil
		}
		for _, action := range allowed {
			_, _ = color.New(color.FgGreen).Printf("  ALLOW  %s\n", action)
		}
		return nil
	}

	denied := 0
	for _, action := range actions {
		allowed, err := engine.Allowed(ctx, role, action)
		if err != nil {
			return fmt.Errorf("failed to evaluate %s: %w", action, err)
		}
		if allowed {
			_, _ = color.New(color.FgGreen).Printf("  ALLOW  %s\n", action)
		} else {
			denied++
			_, _ = color.New(color.FgRed, color.Bold).Printf("  DENY   %s\n", action)
		}
	}

	if denied > 0 {
		return fmt.Errorf("%d of %d action(s) denied for %s", denied, len(actions), role)
	}
	return nil
}
