package app

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/engine"
	"leadline/internal/logger"
	"leadline/internal/migrate"
	"leadline/internal/worker"
)

// App wires the store, config, engine and background workers for one
// process. The CLI and the server both bootstrap through Open.
type App struct {
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
	Log       *zap.Logger
	Recompute *worker.Recomputer
}

type Options struct {
	Workspace   string
	Environment string
}

// Open opens the workspace database, applies pending migrations, loads
// the config (falling back to defaults when leadline.yml is absent) and
// builds the engine. The caller owns Close.
func Open(opts Options) (*App, error) {
	log, err := logger.New(opts.Environment)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	rec := worker.NewRecomputer(e, log)
	e.Recompute = rec.Submit

	return &App{
		DB:        conn,
		Config:    cfg,
		Engine:    e,
		Log:       log,
		Recompute: rec,
	}, nil
}

func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.DB.Close()
}
