package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/toydogcat/model-server/internal/artifact"
	"github.com/toydogcat/model-server/internal/audit"
	"github.com/toydogcat/model-server/internal/config"
	"github.com/toydogcat/model-server/internal/httpapi"
	"github.com/toydogcat/model-server/internal/logging"
	"github.com/toydogcat/model-server/internal/pipeline"
	"github.com/toydogcat/model-server/internal/registry"
	"github.com/toydogcat/model-server/internal/registry/teststub"
	"github.com/toydogcat/model-server/pkg/types"
)

func main() {
	defaultConfig := os.Getenv("INFERD_CONFIG")
	configPath := flag.String("config", defaultConfig, "path to a YAML/JSON/TOML config file")
	defaultAddr := ":8080"
	if v := os.Getenv("INFERD_ADDR"); v != "" {
		defaultAddr = v
	}
	addr := flag.String("addr", defaultAddr, "HTTP listen address, e.g. :8080")
	flag.Parse()

	var cfg config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "inferd: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}

	logger, err := logging.Setup(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "inferd: setup logging: %v\n", err)
		os.Exit(1)
	}
	mgrOpts, closePublisher := buildPublisherOption(cfg, logger)
	defer closePublisher()

	mgr := registry.NewModelManager(mgrOpts...)

	loader := buildArtifactLoader(cfg, logger)

	for _, entry := range cfg.Models {
		entry := entry
		factory := stubFactory(entry)
		model := mgr.RegisterModel(entry.Name, factory)
		if loader != nil {
			model.SetCustomLoader(loader)
		}
		if len(entry.Versions) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := mgr.LoadVersions(ctx, entry.Name, entry.ToVersions(), entry.ToModelConfig())
			cancel()
			if err != nil {
				logger.Error().Err(err).Str("model", entry.Name).Msg("initial load failed")
			}
		}
	}

	pf := pipeline.NewPipelineFactory()
	for _, p := range cfg.Pipelines {
		nodeInfos, connections, err := p.ToDefinition()
		if err != nil {
			logger.Error().Err(err).Str("pipeline", p.Name).Msg("invalid pipeline definition")
			continue
		}
		if err := pf.CreateDefinition(p.Name, nodeInfos, connections, mgr); err != nil {
			logger.Error().Err(err).Str("pipeline", p.Name).Msg("register pipeline failed")
		}
	}

	mux, err := httpapi.NewMux(httpapi.Service{Manager: mgr, Pipeline: pf}, httpapi.Options{
		RateLimit:             cfg.RateLimit,
		CORSOrigins:           cfg.CORSOrigins,
		MaxBodyBytes:          cfg.MaxBodyBytes,
		PredictTimeoutSeconds: cfg.PredictTimeoutSeconds,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build http mux")
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("inferd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("registry shutdown error")
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown error")
	}
}

// buildPublisherOption wires internal/audit as the registry's EventPublisher
// when an audit DSN is configured, falling back to the registry's default
// no-op publisher otherwise. The returned func closes the
// pool on shutdown and is always safe to call.
func buildPublisherOption(cfg config.Config, logger zerolog.Logger) ([]registry.Option, func()) {
	if cfg.AuditDSN == "" {
		return nil, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pub, err := audit.Open(ctx, audit.Config{DSN: cfg.AuditDSN})
	if err != nil {
		logger.Error().Err(err).Msg("open audit publisher, falling back to no audit trail")
		return nil, func() {}
	}
	return []registry.Option{registry.WithEventPublisher(pub)}, pub.Close
}

// buildArtifactLoader wires internal/artifact.MinioLoader as every
// registered model's CustomLoader when object storage is configured.
func buildArtifactLoader(cfg config.Config, logger zerolog.Logger) *artifact.MinioLoader {
	if cfg.Artifacts.Endpoint == "" {
		return nil
	}
	loader, err := artifact.NewMinioLoader(artifact.Config{
		Endpoint:  cfg.Artifacts.Endpoint,
		Bucket:    cfg.Artifacts.Bucket,
		AccessKey: cfg.Artifacts.AccessKey,
		SecretKey: cfg.Artifacts.SecretKey,
		UseSSL:    cfg.Artifacts.UseSSL,
	})
	if err != nil {
		logger.Error().Err(err).Msg("configure artifact loader, models will load without it")
		return nil
	}
	return loader
}

// stubFactory builds a types.ModelInstanceFactory from a config entry's
// declared schema. There is no real inference runtime wired into this
// binary; teststub.Instance plays that role here, exercised through
// actual startup configuration instead of only from tests.
func stubFactory(entry config.ModelEntry) types.ModelInstanceFactory {
	inputs, outputs, batch := entry.InputsSchema(), entry.OutputsSchema(), entry.BatchingMode()
	return func(name string, version types.ModelVersion) types.ModelInstance {
		if entry.Backend == "tokenizer" {
			return teststub.NewTokenizer(name, version)
		}
		return teststub.New(name, version, inputs, outputs, batch)
	}
}
