package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/whatsapp"
)

func newWhatsAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whatsapp",
		Short: "WhatsApp Cloud API diagnostics",
	}

	cmd.AddCommand(newWhatsAppConfigCmd())
	cmd.AddCommand(newWhatsAppSendTextCmd())
	cmd.AddCommand(newWhatsAppSendTemplateCmd())
	cmd.AddCommand(newWhatsAppTemplatesCmd())
	return cmd
}

// whatsAppClient loads config and builds a Cloud API client.
func whatsAppClient(configPath string) (*whatsapp.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return whatsapp.NewClient(whatsapp.ClientOpts{Config: cfg.WhatsApp})
}

func newWhatsAppConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Verify WhatsApp credentials",
		Long:  "Fetches the phone number profile from the Cloud API to confirm the access token and phone number id work.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client, err := whatsAppClient(configPath)
			if err != nil {
				return err
			}

			res := client.CheckConfiguration(cmd.Context())
			if !res.Success {
				return fmt.Errorf("configuration check failed (status %d): %s", res.StatusCode, res.Detail)
			}
			fmt.Fprintf(out, "Phone:   %s\n", res.DisplayPhone)
			fmt.Fprintf(out, "Name:    %s\n", res.VerifiedName)
			fmt.Fprintf(out, "Quality: %s\n", res.QualityRating)
			fmt.Fprintln(out, "\nWhatsApp configuration looks good.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func newWhatsAppSendTextCmd() *cobra.Command {
	var (
		configPath string
		to         string
		text       string
	)

	cmd := &cobra.Command{
		Use:   "send-text",
		Short: "Send a test text message",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client, err := whatsAppClient(configPath)
			if err != nil {
				return err
			}

			res := client.SendText(cmd.Context(), to, text)
			if !res.Success {
				return fmt.Errorf("send failed (status %d): %s", res.StatusCode, res.Detail)
			}
			fmt.Fprintf(out, "Sent (provider id %s)\n", res.MessageID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&to, "to", "", "destination phone number (required)")
	cmd.Flags().StringVar(&text, "text", "", "message text (required)")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("text")
	return cmd
}

func newWhatsAppSendTemplateCmd() *cobra.Command {
	var (
		configPath string
		to         string
		name       string
		language   string
		params     []string
	)

	cmd := &cobra.Command{
		Use:   "send-template",
		Short: "Send a test template message",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client, err := whatsAppClient(configPath)
			if err != nil {
				return err
			}

			res := client.SendTemplate(cmd.Context(), to, name, language, params)
			if !res.Success {
				return fmt.Errorf("send failed (status %d): %s", res.StatusCode, res.Detail)
			}
			fmt.Fprintf(out, "Sent (provider id %s)\n", res.MessageID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&to, "to", "", "destination phone number (required)")
	cmd.Flags().StringVar(&name, "name", "", "template name (required)")
	cmd.Flags().StringVar(&language, "language", "en", "template language code")
	cmd.Flags().StringArrayVar(&params, "param", nil, "template body parameter (repeatable)")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("name")
	return cmd
}

func newWhatsAppTemplatesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List approved message templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client, err := whatsAppClient(configPath)
			if err != nil {
				return err
			}

			res := client.GetAvailableTemplates(cmd.Context())
			if !res.Success {
				return fmt.Errorf("template listing failed (status %d): %s", res.StatusCode, res.Detail)
			}
			if len(res.Templates) == 0 {
				fmt.Fprintln(out, "No templates found.")
				return nil
			}

			fmt.Fprintf(out, "%-32s %-10s %-10s %s\n", "NAME", "LANGUAGE", "STATUS", "CATEGORY")
			for _, t := range res.Templates {
				fmt.Fprintf(out, "%-32s %-10s %-10s %s\n", t.Name, t.Language, t.Status, t.Category)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}
