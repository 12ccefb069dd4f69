package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockSkipLocked adds a FOR UPDATE SKIP LOCKED lock on MySQL, letting
// concurrent claimers pass over rows another worker already holds. SQLite
// (tests) serializes writers at the database level, so the clause is
// skipped there.
func LockSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	return tx
}
