package db

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.Protocol{},
		&models.BotSession{},
		&models.Agent{},
		&models.AuditLog{},
		&models.OutboxEvent{},
		&models.IngestTask{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAgents upserts Agent rows from configuration.
func SeedAgents(db *gorm.DB, agents []config.AgentConfig) error {
	for _, ac := range agents {
		agent := models.Agent{
			ID:               ac.ID,
			Name:             ac.Name,
			Active:           true,
			SlackUserID:      ac.SlackUserID,
			DiscordChannelID: ac.DiscordChannelID,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "slack_user_id", "discord_channel_id", "active"}),
		}).Create(&agent)
		if result.Error != nil {
			return fmt.Errorf("db: seed agent %q: %w", ac.ID, result.Error)
		}
	}
	return nil
}

// HasColumn reports whether the table backing model has the named column.
// Used by the doctor command to diagnose schema drift.
func HasColumn(db *gorm.DB, model interface{}, column string) bool {
	return db.Migrator().HasColumn(model, column)
}
