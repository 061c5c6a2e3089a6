package main

import (
	"context"
	"log"
	"strings"

	"github.com/joho/godotenv"

	"campuschat/internal/app"
	"campuschat/pkg/config"
	"campuschat/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	cfg, nonDefault, err := config.LoadEffective(flags)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var srcs []string
	if len(flags.Set) > 0 {
		srcs = append(srcs, "flags")
	}
	if nonDefault {
		srcs = append(srcs, "env/config")
	}
	if len(srcs) == 0 {
		srcs = append(srcs, "defaults")
	}

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr += " @ " + buildDate
	}

	a, err := app.New(cfg, strings.Join(srcs, ", "), verStr)
	if err != nil {
		shutdown.Abort("startup failed", err, cfg.Server.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server exited", err, cfg.Server.DBPath, 0)
	}
}
