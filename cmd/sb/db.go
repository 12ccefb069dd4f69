package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// loadAndConnect loads the config file and opens the database. Shared by
// every command that touches persistent state.
func loadAndConnect(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBDoctorCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the Switchboard database",
		Long:  "Creates or updates all tables and seeds agents from configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if len(cfg.Agents) > 0 {
		if err := db.SeedAgents(gormDB, cfg.Agents); err != nil {
			return err
		}
		fmt.Fprintf(out, "Seeded %d agents:", len(cfg.Agents))
		for _, a := range cfg.Agents {
			fmt.Fprintf(out, " %s", a.ID)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "\nSwitchboard database migrated successfully.")
	return nil
}

func newDBDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose schema drift",
		Long:  "Checks that critical columns exist on their tables and reports what is missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

// criticalColumns are columns whose absence breaks core flows; older
// deployments missing them need a migrate run.
var criticalColumns = []struct {
	model  interface{}
	table  string
	column string
}{
	{&models.Contact{}, "contacts", "phone"},
	{&models.Contact{}, "contacts", "blocked"},
	{&models.Contact{}, "contacts", "erp_user_id"},
	{&models.Conversation{}, "conversations", "status"},
	{&models.Conversation{}, "conversations", "priority"},
	{&models.Conversation{}, "conversations", "last_message_at"},
	{&models.Message{}, "messages", "provider_message_id"},
	{&models.Message{}, "messages", "client_id"},
	{&models.Message{}, "messages", "send_status"},
	{&models.Protocol{}, "protocols", "number"},
	{&models.OutboxEvent{}, "outbox_events", "next_attempt_at"},
	{&models.OutboxEvent{}, "outbox_events", "claimed_at"},
	{&models.IngestTask{}, "ingest_tasks", "claimed_at"},
	{&models.IngestTask{}, "ingest_tasks", "next_attempt_at"},
}

func runDBDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	_, gormDB, err := loadAndConnect(configPath)
	if err != nil {
		return err
	}

	missing := 0
	for _, c := range criticalColumns {
		if db.HasColumn(gormDB, c.model, c.column) {
			fmt.Fprintf(out, "ok       %s.%s\n", c.table, c.column)
		} else {
			fmt.Fprintf(out, "MISSING  %s.%s\n", c.table, c.column)
			missing++
		}
	}

	if missing > 0 {
		return fmt.Errorf("%d missing columns — run 'sb db migrate'", missing)
	}
	fmt.Fprintln(out, "\nSchema looks healthy.")
	return nil
}
