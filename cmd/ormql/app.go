// Package ormql implements the ormql command line.
package ormql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eddieafk/ormql/events"
	"github.com/eddieafk/ormql/handler"
	"github.com/eddieafk/ormql/host"
	"github.com/eddieafk/ormql/internal/config"
	"github.com/eddieafk/ormql/orm"
)

// configApp is the app id of models declared in the config file
const configApp = "config"

// app is a mounted host backed by the configured database
type app struct {
	path   string
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	host   *host.Host
}

func newApp(ctx context.Context, path string, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := orm.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, orm.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a := &app{path: path, cfg: cfg, logger: logger, db: db.SQL()}
	if err := a.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a.host = host.New(host.Options{
		Whitelist: cfg.Schema.Whitelist,
		Blacklist: cfg.Schema.Blacklist,
		Broker:    events.NewMemory(64, logger),
		Server: handler.Config{
			EnablePlayground: cfg.PlaygroundEnabled(),
			PlaygroundTitle:  "ormql",
			Endpoint:         cfg.Server.Path,
			RequestTimeout:   cfg.Server.Timeout,
		},
		JWTSecret: []byte(cfg.Auth.JWTSecret),
		RateLimit: cfg.Server.RateLimit.RPS,
		RateBurst: cfg.Server.RateLimit.Burst,
		Logger:    logger,
	})

	contributions, err := a.contributions(cfg)
	if err != nil {
		logger.Warn("some models could not be defined", zap.Error(err))
	}
	if err := a.host.Mount(ctx, contributions); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// migrate runs the configured SQL file, resolved next to the config file
func (a *app) migrate(ctx context.Context) error {
	file := a.cfg.Database.Migrations
	if file == "" {
		return nil
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(filepath.Dir(a.path), file)
	}

	ddl, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("migrations applied", zap.String("file", file))
	return nil
}

// contributions defines cfg's models on a fresh ORM registry sharing the
// database handle. Models that fail to define are left out.
func (a *app) contributions(cfg *config.Config) ([]host.Contribution, error) {
	db, err := orm.New(a.db, cfg.Database.Driver, orm.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	var (
		out  []host.Contribution
		errs error
	)
	for _, mc := range cfg.Models {
		m, err := db.Define(mc.Name, mc.Definition())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, host.Contribution{
			AppID: configApp,
			Kind:  host.KindModel,
			Item:  host.ModelItem{Model: m, Config: mc.Options()},
		})
	}
	return out, errs
}

// reload re-reads the config file and remounts its models. Server, database
// and schema filter settings need a restart.
func (a *app) reload(ctx context.Context) error {
	cfg, err := config.Load(a.path)
	if err != nil {
		return err
	}

	contributions, err := a.contributions(cfg)
	if err != nil {
		a.logger.Warn("some models could not be defined", zap.Error(err))
	}
	if err := a.host.RemountWith(ctx, map[string][]host.Contribution{configApp: contributions}); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger.Info("config reloaded", zap.String("path", a.path), zap.Int("models", len(contributions)))
	return nil
}

func (a *app) close() error {
	return a.db.Close()
}
