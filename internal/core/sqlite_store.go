package core

import "entitygraph/internal/infra/persistence/sqlite"

// NewSQLiteStore constructs a SQLite-backed persistent registry using the
// provided file path (may be empty for default) and rules engine.
func NewSQLiteStore(path string, engine *RulesEngine) (*sqlite.Store, error) {
	return sqlite.NewStore(path, engine)
}
