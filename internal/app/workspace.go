package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"coachline/internal/config"
	"coachline/internal/db"
	"coachline/internal/engine"
	"coachline/internal/migrate"
)

// Workspace is an opened, migrated coachline workspace.
type Workspace struct {
	Dir    string
	Conn   *sql.DB
	Engine engine.Engine
}

// Open prepares the workspace directory, opens its database and applies migrations.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{Dir: dir, Conn: conn, Engine: engine.New(conn)}, nil
}

// Close releases the database handle.
func (w *Workspace) Close() error {
	return w.Conn.Close()
}

// LoadContent reads the workspace catalog. When no catalog file exists the built-in
// default is returned and fromFile is false.
func LoadContent(dir string) (c *config.Content, fromFile bool, err error) {
	path := config.Path(dir)
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), false, nil
		}
		return nil, false, statErr
	}
	c, err = config.FromFile(path)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// SyncContent imports the workspace catalog into the database. Imports are upserts,
// so running it on every start is safe.
func (w *Workspace) SyncContent(ctx context.Context, actorID string) (engine.ImportSummary, error) {
	c, _, err := LoadContent(w.Dir)
	if err != nil {
		return engine.ImportSummary{}, err
	}
	return w.Engine.ImportContent(ctx, c, actorID)
}

// WriteDefaultContent writes the starter catalog unless one exists and force is false.
func WriteDefaultContent(dir string, force bool) (string, error) {
	path := config.Path(dir)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists; use --force to overwrite", path)
	}
	if err := os.WriteFile(path, []byte(config.DefaultTemplate), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
