// Command groqnode hosts the Groq chat-completion node over HTTP, or runs a
// single completion from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemic/groqnode/internal/config"
	"github.com/mnemic/groqnode/internal/event"
	"github.com/mnemic/groqnode/internal/node"
	"github.com/mnemic/groqnode/internal/registry"
	"github.com/mnemic/groqnode/internal/server"
	"github.com/mnemic/groqnode/internal/version"
	"github.com/mnemic/groqnode/internal/ws"
	"github.com/mnemic/groqnode/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	// Subcommand dispatch (before flag.Parse).
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "complete":
			os.Exit(runComplete(os.Args[2:]))
		case "version":
			fmt.Println(version.Info())
			return
		case "serve":
			os.Args = append(os.Args[:1], os.Args[2:]...)
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	viperCfg, logger := mustLoad(*configPath)
	defer func() { _ = logger.Sync() }()

	logger.Info("groqnode starting", zap.String("version", version.Short()))
	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults and environment", zap.String("component", "config"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus(logger.Named("event"))

	// Compile-time composition: this binary hosts the Groq node.
	groq := node.New()
	reg := registry.New(logger.Named("registry"))
	if err := reg.Register(groq); err != nil {
		logger.Fatal("failed to register node", zap.Error(err))
	}
	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return nodeDeps(viperCfg, logger.Named(name), bus)
	}); err != nil {
		logger.Fatal("failed to initialize nodes", zap.Error(err))
	}
	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start nodes", zap.Error(err))
	}

	wsHandler := ws.NewHandler(bus, groq.Store(), viperCfg.GetStringSlice("server.ws_origins"), logger.Named("ws"))
	defer wsHandler.Close()

	srvCfg := server.DefaultConfig()
	if err := viperCfg.UnmarshalKey("server", &srvCfg); err != nil {
		logger.Fatal("invalid server configuration", zap.Error(err))
	}
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		if status := groq.Health(ctx); status.Status != "healthy" {
			return fmt.Errorf("groq endpoint: %s", status.Message)
		}
		return nil
	})
	srv := server.New(srvCfg, reg.All(), logger, readyCheck, wsHandler)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	fmt.Fprintf(os.Stderr, "\n  groqnode %s is ready on http://%s/api/v1/groq\n\n", version.Short(), srvCfg.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := reg.StopAll(shutdownCtx); err != nil {
		logger.Error("node shutdown error", zap.Error(err))
	}

	logger.Info("groqnode stopped")
}

// mustLoad reads configuration and builds the logger from it, exiting on failure.
func mustLoad(configPath string) (*viper.Viper, *zap.Logger) {
	viperCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return viperCfg, logger
}

func nodeDeps(v *viper.Viper, logger *zap.Logger, bus plugin.EventBus) plugin.Dependencies {
	return plugin.Dependencies{
		Config: config.New(v).Sub("node"),
		Logger: logger,
		Bus:    bus,
	}
}
