package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/contacts"
)

func newContactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Contact management commands",
	}

	cmd.AddCommand(newContactShowCmd())
	cmd.AddCommand(newContactBlockCmd())
	cmd.AddCommand(newContactUnblockCmd())
	cmd.AddCommand(newContactDeleteCmd())
	return cmd
}

func newContactShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <contact-id>",
		Short: "Show a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			contact, err := contacts.Get(gormDB, id)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Contact %d\n", contact.ID)
			fmt.Fprintf(out, "  Phone:   %s\n", contact.Phone)
			fmt.Fprintf(out, "  Name:    %s\n", contact.Name)
			fmt.Fprintf(out, "  Email:   %s\n", contact.Email)
			if contact.ERPUserID != "" {
				fmt.Fprintf(out, "  ERP id:  %s\n", contact.ERPUserID)
			}
			if contact.Blocked {
				fmt.Fprintf(out, "  Blocked: yes (%s, by %s)\n", contact.BlockReason, contact.BlockedBy)
			} else {
				fmt.Fprintln(out, "  Blocked: no")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newContactBlockCmd() *cobra.Command {
	var (
		configPath string
		actor      string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "block <contact-id>",
		Short: "Block a contact",
		Long:  "Blocks a contact. Further inbound messages are rejected and audited; existing conversations stay as they are.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			if err := contacts.Block(gormDB, id, actor, reason); err != nil {
				return err
			}
			fmt.Fprintf(out, "Contact %d blocked\n", id)
			return nil
		},
		Args: cobra.ExactArgs(1),
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&actor, "by", "", "who is blocking (required)")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the contact is blocked (required)")
	cmd.MarkFlagRequired("by")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func newContactUnblockCmd() *cobra.Command {
	var (
		configPath string
		actor      string
	)

	cmd := &cobra.Command{
		Use:   "unblock <contact-id>",
		Short: "Unblock a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			if err := contacts.Unblock(gormDB, id, actor); err != nil {
				return err
			}
			fmt.Fprintf(out, "Contact %d unblocked\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&actor, "by", "", "who is unblocking (required)")
	cmd.MarkFlagRequired("by")
	return cmd
}

func newContactDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <contact-id>",
		Short: "Soft-delete a contact",
		Long:  "Soft-deletes a contact. Refused while the contact has an active conversation or an open protocol.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			if err := contacts.Delete(gormDB, id); err != nil {
				return err
			}
			fmt.Fprintf(out, "Contact %d deleted\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}
