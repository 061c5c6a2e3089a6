// Package app wires configuration, storage, the realtime hub and the
// HTTP server into one lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"

	"net/http"

	"campuschat/internal/sweeper"
	"campuschat/pkg/banner"
	"campuschat/pkg/config"
	"campuschat/pkg/logger"
	"campuschat/pkg/msglog"
	"campuschat/pkg/realtime"
	"campuschat/pkg/room"
	"campuschat/pkg/store"
	"campuschat/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	source  string
	version string

	hub   *realtime.Hub
	rooms *room.Registry
	msgs  *msglog.Service

	srv *http.Server
}

// New initializes resources that do not require a running context: env,
// logging, validation rules, the store and the service graph. Call Run to
// start the hub, sweeper and HTTP server.
func New(cfg *config.Config, source, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logger.Init(cfg.Logging.Level)
	if cfg.Logging.AuditPath != "" {
		if err := logger.AttachAuditFileSink(cfg.Logging.AuditPath); err != nil {
			return nil, fmt.Errorf("audit sink: %w", err)
		}
	}

	initValidation(cfg)

	if err := store.Open(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Server.DBPath, err)
	}

	qcap := cfg.Realtime.QueueCapacity
	if qcap <= 0 {
		qcap = 1024
	}
	hub := realtime.NewHub(realtime.NewQueue(qcap))
	rooms := room.NewRegistry(room.AllowAll)
	msgs := msglog.New(rooms, hub)

	return &App{cfg: cfg, source: source, version: version, hub: hub, rooms: rooms, msgs: msgs}, nil
}

// Run starts the hub, sweeper and HTTP server and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.cfg, a.version, a.source)

	go a.hub.Run()

	stopSweeper, err := sweeper.Start(ctx, a.cfg.Sweeper, a.hub)
	if err != nil {
		return err
	}
	defer stopSweeper()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		_ = a.srv.Close()
	}
	a.hub.Shutdown()
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
}

// initValidation builds send-payload rules from config and installs them.
func initValidation(cfg *config.Config) {
	vr := validation.Rules{Types: map[string]string{}, MaxLen: map[string]int{}, Enums: map[string][]string{}}
	vr.Required = append(vr.Required, cfg.Validation.Required...)
	for _, t := range cfg.Validation.Types {
		vr.Types[t.Path] = t.Type
	}
	for _, ml := range cfg.Validation.MaxLen {
		vr.MaxLen[ml.Path] = ml.Max
	}
	for _, e := range cfg.Validation.Enums {
		vr.Enums[e.Path] = append([]string{}, e.Values...)
	}
	validation.SetRules(vr)
}
