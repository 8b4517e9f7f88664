package db

import (
	"context"
	"fmt"
	"strings"
)

var transactionalEngines = map[string]bool{
	"innodb":     true,
	"ndb":        true,
	"ndbcluster": true,
}

// ProbeTransactions checks once whether multi-statement writes on tables can be
// made atomic: a transaction must open and roll back cleanly and every table must
// live in a transactional engine. A missing table counts as unsupported.
func ProbeTransactions(ctx context.Context, database Database, tables ...string) (bool, error) {
	if database == nil {
		return false, fmt.Errorf("database is nil")
	}
	tx, err := database.BeginTx(ctx)
	if err != nil {
		return false, nil
	}
	if err := tx.Rollback(); err != nil {
		return false, nil
	}

	const query = "SELECT ENGINE FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
	for _, table := range tables {
		var engine string
		if err := database.QueryRow(ctx, query, table).Scan(&engine); err != nil {
			if IsNoRows(err) {
				return false, nil
			}
			return false, fmt.Errorf("probe engine of %s: %w", table, err)
		}
		if !transactionalEngines[strings.ToLower(engine)] {
			return false, nil
		}
	}
	return true, nil
}
