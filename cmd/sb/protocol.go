package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/protocol"
)

func newProtocolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "protocol",
		Short: "Support protocol commands",
	}

	cmd.AddCommand(newProtocolCreateCmd())
	cmd.AddCommand(newProtocolListCmd())
	cmd.AddCommand(newProtocolShowCmd())
	cmd.AddCommand(newProtocolCloseCmd())
	cmd.AddCommand(newProtocolReopenCmd())
	cmd.AddCommand(newProtocolStatsCmd())
	return cmd
}

func newProtocolCreateCmd() *cobra.Command {
	var (
		configPath string
		contactID  uint
		subject    string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a protocol for a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			proto, err := protocol.Create(gormDB, contactID, subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Protocol %s created for contact %d\n", proto.Number, proto.ContactID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().UintVar(&contactID, "contact", 0, "contact id (required)")
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "protocol subject (required)")
	cmd.MarkFlagRequired("contact")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func newProtocolListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		contactID  uint
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List protocols, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			protos, err := protocol.List(gormDB, status, contactID, limit)
			if err != nil {
				return err
			}
			if len(protos) == 0 {
				fmt.Fprintln(out, "No protocols found.")
				return nil
			}

			fmt.Fprintf(out, "%-18s %-8s %-24s %s\n", "NUMBER", "STATUS", "CONTACT", "SUBJECT")
			for _, p := range protos {
				fmt.Fprintf(out, "%-18s %-8s %-24s %s\n", p.Number, p.Status, p.Contact.Phone, p.Subject)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (open, closed)")
	cmd.Flags().UintVar(&contactID, "contact", 0, "filter by contact id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum protocols to list")
	return cmd
}

func newProtocolShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <number>",
		Short: "Show a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			proto, err := protocol.Get(gormDB, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Protocol %s\n", proto.Number)
			fmt.Fprintf(out, "  Status:   %s\n", proto.Status)
			fmt.Fprintf(out, "  Contact:  %s (%d)\n", proto.Contact.Phone, proto.ContactID)
			fmt.Fprintf(out, "  Subject:  %s\n", proto.Subject)
			fmt.Fprintf(out, "  Opened:   %s\n", proto.CreatedAt.Format("2006-01-02 15:04:05"))
			if proto.Status == models.ProtocolClosed && proto.ClosedAt != nil {
				fmt.Fprintf(out, "  Closed:   %s\n", proto.ClosedAt.Format("2006-01-02 15:04:05"))
			}
			if proto.Resolution != "" {
				fmt.Fprintf(out, "  Resolution: %s\n", proto.Resolution)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newProtocolCloseCmd() *cobra.Command {
	var (
		configPath string
		resolution string
	)

	cmd := &cobra.Command{
		Use:   "close <number>",
		Short: "Resolve a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			proto, err := protocol.Close(gormDB, args[0], resolution)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Protocol %s closed\n", proto.Number)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVarP(&resolution, "resolution", "r", "", "how the protocol was resolved (required)")
	cmd.MarkFlagRequired("resolution")
	return cmd
}

func newProtocolReopenCmd() *cobra.Command {
	var (
		configPath string
		actor      string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "reopen <number>",
		Short: "Reopen a closed protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			proto, err := protocol.Reopen(gormDB, args[0], actor, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Protocol %s reopened\n", proto.Number)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&actor, "by", "", "who is reopening (required)")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the protocol is reopened (required)")
	cmd.MarkFlagRequired("by")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func newProtocolStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show protocol volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			stats, err := protocol.GetStats(gormDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Open:   %d\n", stats.Open)
			fmt.Fprintf(out, "Closed: %d\n", stats.Closed)
			fmt.Fprintf(out, "Total:  %d\n", stats.Total)
			if stats.Closed > 0 {
				fmt.Fprintf(out, "Avg resolution: %.1fh\n", stats.AvgResolutionHours)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}
