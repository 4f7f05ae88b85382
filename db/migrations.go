package db

import (
	"fmt"

	"gorm.io/gorm"
)

const activePairIndex = "uniq_friendship_edges_active_pair"

// CreateActivePairIndex - частичный уникальный индекс: не больше одного
// pending/accepted ребра на неупорядоченную пару. Работает в PostgreSQL и SQLite.
func CreateActivePairIndex(db *gorm.DB) error {
	createIndexSQL := fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS %s ON friendship_edges (pair_low, pair_high)
		WHERE status IN ('pending', 'accepted');
	`, activePairIndex)
	if err := db.Exec(createIndexSQL).Error; err != nil {
		return fmt.Errorf("failed to create index %s: %w", activePairIndex, err)
	}
	return nil
}
