package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/conversation"
)

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Conversation management commands",
	}

	cmd.AddCommand(newConversationQueueCmd())
	cmd.AddCommand(newConversationAssignCmd())
	cmd.AddCommand(newConversationCloseCmd())
	cmd.AddCommand(newConversationReopenCmd())
	return cmd
}

func newConversationQueueCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the pickup queue",
		Long:  "Lists unassigned open conversations in pickup order: urgent first, oldest first within a priority.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			convs, err := conversation.NextInQueue(gormDB, limit)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Fprintln(out, "Queue is empty.")
				return nil
			}

			fmt.Fprintf(out, "%-6s %-8s %-10s %-20s %s\n", "POS", "ID", "PRIORITY", "WAITING SINCE", "CHANNEL")
			for i, c := range convs {
				fmt.Fprintf(out, "%-6d %-8d %-10s %-20s %s\n",
					i+1, c.ID, c.Priority, c.CreatedAt.Format("2006-01-02 15:04:05"), c.Channel)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum conversations to list")
	return cmd
}

func newConversationAssignCmd() *cobra.Command {
	var (
		configPath string
		agentID    string
	)

	cmd := &cobra.Command{
		Use:   "assign <conversation-id>[,<id>...]",
		Short: "Assign conversations to an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			ids, err := parseIDList(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			if len(ids) == 1 {
				if err := conversation.Assign(gormDB, ids[0], agentID); err != nil {
					return err
				}
				fmt.Fprintf(out, "Conversation %d assigned to %s\n", ids[0], agentID)
				return nil
			}

			return reportBulk(cmd, conversation.BulkAssign(gormDB, ids, agentID), "assigned")
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVarP(&agentID, "agent", "a", "", "agent id to assign to (required)")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newConversationCloseCmd() *cobra.Command {
	var (
		configPath string
		closedBy   string
	)

	cmd := &cobra.Command{
		Use:   "close <conversation-id>[,<id>...]",
		Short: "Close conversations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			ids, err := parseIDList(args[0])
			if err != nil {
				return err
			}
			_, gormDB, err := loadAndConnect(configPath)
			if err != nil {
				return err
			}

			if len(ids) == 1 {
				if err := conversation.Close(gormDB, ids[0], closedBy); err != nil {
					return err
				}
				fmt.Fprintf(out, "Conversation %d closed\n", ids[0])
				return nil
			}

			return reportBulk(cmd, conversation.BulkClose(gormDB, ids, closedBy), "closed")
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&closedBy, "by", "", "who is closing (required)")
	cmd.MarkFlagRequired("by")
	return cmd
}

func newConversationReopenCmd() *cobra.Command {
	var (
		configPath string
		actor      string
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "reopen <conversation-id>",
		Short: "Reopen a closed conversation",
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

			if err := conversation.Reopen(gormDB, id, actor, reason); err != nil {
				return err
			}
			fmt.Fprintf(out, "Conversation %d reopened\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&actor, "by", "", "who is reopening (required)")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the conversation is reopened (required)")
	cmd.MarkFlagRequired("by")
	cmd.MarkFlagRequired("reason")
	return cmd
}

// reportBulk prints per-item outcomes and fails the command when any item
// failed, without hiding the successes.
func reportBulk(cmd *cobra.Command, results []conversation.BulkResult, verb string) error {
	out := cmd.OutOrStdout()

	failed := 0
	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(out, "ok     %d %s\n", r.ConversationID, verb)
		} else {
			fmt.Fprintf(out, "FAILED %d: %v\n", r.ConversationID, r.Err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d conversations failed", failed, len(results))
	}
	return nil
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid conversation id %q", s)
	}
	return uint(id), nil
}

func parseIDList(s string) ([]uint, error) {
	parts := strings.Split(s, ",")
	ids := make([]uint, 0, len(parts))
	for _, p := range parts {
		id, err := parseID(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
