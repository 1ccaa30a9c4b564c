//go:build !js && !wasm

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/himanishpuri/EarPrint/internal/config"
	"github.com/himanishpuri/EarPrint/pkg/earprint"
	"github.com/himanishpuri/EarPrint/pkg/earprint/notify"
	"github.com/himanishpuri/EarPrint/pkg/earprint/session"
	"github.com/spf13/pflag"
)

func main() {
	flags := pflag.NewFlagSet("earprint-server", pflag.ExitOnError)
	configFile := flags.String("config", "", "Path to a YAML config file")
	flags.Int("port", 8080, "HTTP server port")
	flags.String("db", "earprint.sqlite3", "Path to SQLite database")
	flags.String("temp", os.TempDir(), "Temporary directory")
	flags.Int("rate", 16000, "Engine sample rate")
	flags.StringSlice("origins", []string{"*"}, "Allowed CORS origins (use * for all)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("sync", false, "Run match attempts inside the ingest request")
	_ = flags.Parse(os.Args[1:])

	v, err := config.New(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	err = config.BindFlags(v, flags, map[string]string{
		"port":    "server.port",
		"db":      "db_path",
		"temp":    "temp_dir",
		"rate":    "engine.sample_rate",
		"origins": "server.allowed_origins",
		"sync":    "session.synchronous",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := cfg.Logger()
	defer log.Sync()

	service, err := earprint.NewService(cfg.ServiceOptions(log)...)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	sessCfg, err := cfg.SessionConfig()
	if err != nil {
		log.Fatalf("Invalid session config: %v", err)
	}
	sessions, err := session.New(service, sessCfg,
		session.WithNotifier(notify.New(cfg.NotifierConfig(), log)),
		session.WithLogger(log.Named("session")),
	)
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}
	defer sessions.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sessions.Run(ctx)

	server := NewServer(service, sessions, &ServerConfig{
		Port:           cfg.Server.Port,
		DBPath:         cfg.DBPath,
		TempDir:        cfg.TempDir,
		SampleRate:     cfg.Engine.SampleRate,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxChunkBytes:  cfg.Server.MaxChunkBytes,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		ShutdownGrace:  cfg.Server.ShutdownGrace,
	}, log)
	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
	}
}
