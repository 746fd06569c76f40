package app

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"priorityline/internal/config"
	"priorityline/internal/db"
	"priorityline/internal/engine"
	"priorityline/internal/engine/auth"
	"priorityline/internal/migrate"
	"priorityline/internal/repo"
)

// App wires the database, migrations, engine and auth for one workspace.
type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Dialect   string
	Engine    engine.Engine
	Auth      auth.Service
}

// Open connects to the configured store, applies migrations and builds the
// engine. A nil cfg loads priorityline.yml from workspace, or defaults.
func Open(workspace string, cfg *config.Config) (*App, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(workspace); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, dialect, cfg)
	log.Debug().Str("workspace", workspace).Str("dialect", dialect).Str("timezone", eng.Location.String()).Msg("workspace opened")
	return &App{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Dialect:   dialect,
		Engine:    eng,
		Auth:      auth.Service{Repo: eng.Repo, Config: cfg},
	}, nil
}

func (a *App) Repo() repo.Repo {
	return a.Engine.Repo
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
