package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/bot"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/fanout"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/webhook"
	"github.com/zulandar/switchboard/internal/whatsapp"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchboard daemon",
		Long: `Runs everything in one process: the webhook server, the ingest worker
pool, the outbox fan-out dispatcher, and the scheduled queue policies.
Stops gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

// botSender adapts the WhatsApp client to the bot flow's reply boundary.
type botSender struct {
	client *whatsapp.Client
}

func (b *botSender) SendText(ctx context.Context, phone, text string) error {
	res := b.client.SendText(ctx, phone, text)
	if !res.Success {
		return fmt.Errorf("send bot reply: status %d: %s", res.StatusCode, res.Detail)
	}
	return nil
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	client, err := whatsapp.NewClient(whatsapp.ClientOpts{Config: cfg.WhatsApp})
	if err != nil {
		return err
	}

	classifier, err := bot.NewClassifier(bot.ClassifierOpts{DB: gormDB})
	if err != nil {
		return err
	}
	menu, err := bot.NewMenuResponder(bot.MenuResponderOpts{
		Channel:  whatsapp.Channel,
		Sender:   &botSender{client: client},
		Triggers: cfg.Bot.TriggerKeywords,
		MenuText: cfg.Bot.MenuText,
	})
	if err != nil {
		return err
	}
	classifier.Register(whatsapp.Channel, menu)

	pipe, err := pipeline.New(pipeline.Opts{
		DB:                 gormDB,
		Classifier:         classifier,
		Deliverer:          whatsapp.NewDeliverer(client),
		DefaultCountryCode: cfg.Bot.DefaultCountryCode,
	})
	if err != nil {
		return err
	}

	pool, err := pipeline.NewWorkerPool(pipeline.WorkerPoolOpts{
		DB:       gormDB,
		Pipeline: pipe,
		Config:   cfg.Pipeline,
		Out:      out,
	})
	if err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(cfg, gormDB, pipe, out)
	if err != nil {
		return err
	}

	server, err := webhook.New(webhook.Opts{
		DB:       gormDB,
		Pipeline: pipe,
		Config:   cfg.Webhook,
		Out:      out,
	})
	if err != nil {
		return err
	}

	scheduler, err := buildScheduler(cfg, gormDB, out)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start()
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	err = server.Run(ctx)
	stop()
	wg.Wait()

	fmt.Fprintln(out, "Switchboard stopped.")
	return err
}

// buildDispatcher assembles the fan-out dispatcher with all event consumers.
// Notification handlers are only installed when a notify platform is
// configured; the welcome handler runs regardless.
func buildDispatcher(cfg *config.Config, gormDB *gorm.DB, pipe *pipeline.Pipeline, out io.Writer) (*fanout.Dispatcher, error) {
	dispatcher, err := fanout.NewDispatcher(fanout.DispatcherOpts{
		DB:     gormDB,
		Config: cfg.Fanout,
		Out:    out,
	})
	if err != nil {
		return nil, err
	}

	dispatcher.Register(models.EventConversationCreated, fanout.WelcomeHandler(pipe, cfg.Bot.WelcomeText))

	notifier, err := buildNotifier(cfg.Notify)
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		dispatcher.Register(models.EventConversationAssigned, fanout.AssignmentHandler(gormDB, notifier))
		dispatcher.Register(models.EventConversationClosed, fanout.ClosedHandler(notifier))
		dispatcher.Register(models.EventMessageReceived, fanout.QueueUpdateHandler(gormDB, notifier))
	}
	return dispatcher, nil
}

// buildNotifier returns the configured notification adapter, or nil when
// notifications are disabled.
func buildNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Platform {
	case "slack":
		return notify.NewSlack(notify.SlackOpts{
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.Slack.ChannelID,
		})
	case "discord":
		return notify.NewDiscord(notify.DiscordOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.Discord.ChannelID,
		})
	default:
		return nil, nil
	}
}

// buildScheduler wires the queue policies onto their cron schedules.
func buildScheduler(cfg *config.Config, gormDB *gorm.DB, out io.Writer) (*cron.Cron, error) {
	scheduler := cron.New()

	escalateAfter := time.Duration(cfg.Policies.EscalateAfterMin) * time.Minute
	_, err := scheduler.AddFunc(cfg.Policies.EscalateCron, func() {
		n, err := conversation.EscalateStale(gormDB, escalateAfter)
		if err != nil {
			fmt.Fprintf(out, "Escalation run failed: %v\n", err)
			return
		}
		if n > 0 {
			fmt.Fprintf(out, "Escalated %d stale conversations to urgent\n", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule escalation %q: %w", cfg.Policies.EscalateCron, err)
	}

	retention := time.Duration(cfg.Policies.ArchiveAfterDays) * 24 * time.Hour
	_, err = scheduler.AddFunc(cfg.Policies.ArchiveCron, func() {
		n, err := conversation.ArchiveAged(gormDB, retention)
		if err != nil {
			fmt.Fprintf(out, "Archival run failed: %v\n", err)
			return
		}
		if n > 0 {
			fmt.Fprintf(out, "Archived %d aged conversations\n", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule archival %q: %w", cfg.Policies.ArchiveCron, err)
	}

	return scheduler, nil
}
