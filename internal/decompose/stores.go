package decompose

import (
	"github.com/QalaTech/speki-sub001/internal/config"
	"github.com/QalaTech/speki-sub001/internal/statestore"
	"github.com/QalaTech/speki-sub001/internal/workspace"
)

// StoreOpener returns the state store of a workspace. It is called once
// per workspace; stores implementing io.Closer are closed by
// Orchestrator.Close.
type StoreOpener func(ws workspace.Layout) (statestore.Store, error)

// FileStores keeps state as JSON files under each workspace's specs
// directory.
func FileStores() StoreOpener {
	return func(ws workspace.Layout) (statestore.Store, error) {
		return statestore.NewFileStore(ws.SpecsDir()), nil
	}
}

// SQLiteStores keeps state in one SQLite database per workspace.
func SQLiteStores(cfg config.StateConfig) StoreOpener {
	return func(ws workspace.Layout) (statestore.Store, error) {
		return statestore.OpenSQLite(cfg.ResolveSQLitePath(ws.DataDir()))
	}
}

// OpenerFor selects the store backend named in cfg.
func OpenerFor(cfg config.StateConfig) StoreOpener {
	if cfg.Backend == "sqlite" {
		return SQLiteStores(cfg)
	}
	return FileStores()
}
