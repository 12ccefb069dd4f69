package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/erpsync"
	"golang.org/x/term"
)

func newERPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "erp",
		Short: "ERP integration commands",
	}

	cmd.AddCommand(newERPSyncCmd())
	return cmd
}

func newERPSyncCmd() *cobra.Command {
	var (
		configPath string
		apiKey     string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Link contacts to ERP users",
		Long: `Fetches the ERP user directory and links contacts to their ERP identity
by phone number. Contacts are never created by the sync; only existing ones
are linked or refreshed. With --dry-run, reports what would change without
writing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runERPSync(cmd, configPath, apiKey, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "ERP API key (prompted when omitted)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing")
	return cmd
}

func runERPSync(cmd *cobra.Command, configPath, apiKey string, dryRun bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return err
	}
	if cfg.ERP.BaseURL == "" {
		return fmt.Errorf("erp.base_url is not configured")
	}

	if apiKey == "" {
		apiKey, err = promptAPIKey(cmd)
		if err != nil {
			return err
		}
	}

	client, err := erpsync.NewClient(erpsync.ClientOpts{
		BaseURL: cfg.ERP.BaseURL,
		APIKey:  apiKey,
	})
	if err != nil {
		return err
	}

	users, err := client.FetchUsers(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Fetched %d ERP users from %s\n", len(users), cfg.ERP.BaseURL)

	report, err := erpsync.SyncUsers(gormDB, users, cfg.Bot.DefaultCountryCode, dryRun)
	if err != nil {
		return err
	}

	if report.DryRun {
		fmt.Fprintln(out, "Dry run — nothing written.")
	}
	fmt.Fprintf(out, "Linked:  %d\n", report.Linked)
	fmt.Fprintf(out, "Updated: %d\n", report.Updated)
	fmt.Fprintf(out, "Skipped: %d\n", report.Skipped)
	for _, e := range report.Errors {
		fmt.Fprintf(out, "ERROR: %s\n", e)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d users failed to sync", len(report.Errors))
	}
	return nil
}

// promptAPIKey reads the key without echoing when stdin is a terminal, and
// falls back to a plain line read otherwise (piped input in scripts).
func promptAPIKey(cmd *cobra.Command) (string, error) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "ERP API key: ")

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		key, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read api key: %w", err)
		}
		return strings.TrimSpace(string(key)), nil
	}

	var key string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &key); err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(key), nil
}
