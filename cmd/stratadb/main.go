package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"stratadb/internal/app"
	"stratadb/pkg/config"
	"stratadb/pkg/jobs"
	"stratadb/pkg/logger"
	"stratadb/pkg/models"
	"stratadb/pkg/mutations"
)

// builtinRegistry returns the default mutation functions and transformation
// processors given to every configured collection. Embedders replace this
// with domain-specific functions.
func builtinRegistry() app.Registry {
	return app.Registry{
		Mutations: map[string]mutations.Func{
			"wordcount": func(data map[string]interface{}) (interface{}, error) {
				s, _ := data["content"].(string)
				return len(strings.Fields(s)), nil
			},
			"charcount": func(data map[string]interface{}) (interface{}, error) {
				s, _ := data["content"].(string)
				return len(s), nil
			},
		},
		Processors: map[string]jobs.Processor{
			"uppercase": func(item models.Item, job models.Job) (interface{}, error) {
				s, _ := item.Data["content"].(string)
				return strings.ToUpper(s), nil
			},
		},
	}
}

func main() {
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, src, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.InitWithLevel(cfg.Logging.Level)

	// flags win over env/config when explicitly set
	addr := addrVal
	if !setFlags["addr"] {
		addr = cfg.Addr()
	}
	dbPath := dbVal
	if !setFlags["db"] {
		if p := cfg.Storage.DBPath; p != "" {
			dbPath = p
		}
	}

	var srcs []string
	if len(setFlags) > 0 {
		srcs = append(srcs, "flags")
	}
	if src.Env {
		srcs = append(srcs, "env")
	}
	if src.File {
		srcs = append(srcs, "config")
	}
	logger.Info("starting",
		"addr", addr,
		"db", dbPath,
		"config_sources", strings.Join(srcs, ","),
		"collections", len(cfg.Collections))

	registries := map[string]app.Registry{}
	for _, spec := range cfg.Collections {
		registries[spec.Name] = builtinRegistry()
	}

	a, err := app.New(cfg, addr, dbPath, registries)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
