package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/pkgres/internal/cfg"
	"github.com/keithlinneman/pkgres/internal/health"
	"github.com/keithlinneman/pkgres/internal/httpserver"
	"github.com/keithlinneman/pkgres/internal/log"
	"github.com/keithlinneman/pkgres/internal/metrics"
	"github.com/keithlinneman/pkgres/internal/opshttp"
	"github.com/keithlinneman/pkgres/internal/otelx"
	"github.com/keithlinneman/pkgres/internal/prof"
	"github.com/keithlinneman/pkgres/internal/ratelimit"
	"github.com/keithlinneman/pkgres/internal/registry"
	"github.com/keithlinneman/pkgres/internal/reshttp"
	"github.com/keithlinneman/pkgres/internal/resource"
	"github.com/keithlinneman/pkgres/internal/seedassets"
	v "github.com/keithlinneman/pkgres/internal/version"
)

const (
	appName   = "pkgres"
	component = "resourced"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix PKGRES_ and validate
	cfg.FillFromEnv(flag.CommandLine, "PKGRES_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_manifest_updates", conf.EnableManifestUpdates,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"manifest_file", conf.ManifestFile,
		"manifest_ssm_param", conf.ManifestSSMParam,
		"manifest_s3_bucket", conf.ManifestS3Bucket,
		"manifest_s3_prefix", conf.ManifestS3Prefix,
		"manifest_poll_interval", conf.ManifestPollInterval.String(),
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": component,
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, component, vi)
	m.SetProfilingActive(conf.EnablePyroscope && err == nil)

	// Package registry, seeded with the embedded package set so the service
	// can answer requests before any manifest load completes
	reg := registry.New()
	seedPkgs := seedassets.Packages()
	reg.Set(registry.StaticSnapshot(seedPkgs))
	L.Info(ctx, "loaded embedded seed packages", "packages", len(seedPkgs))

	setManifestMetrics := func() {
		m.SetManifestSource(string(reg.Source()))
		m.SetManifest(reg.ManifestHash())
		if t := reg.LoadedAt(); !t.IsZero() {
			m.SetManifestLoadedTimestamp(t)
		}
		m.SetPackagesLoaded(len(reg.List()))
	}
	setManifestMetrics()

	if conf.ManifestFile != "" {
		// local manifest file: load once, no SSM/S3, no watcher
		snap, err := registry.LoadFile(ctx, conf.ManifestFile, registry.BuildOptions{Static: seedPkgs})
		if err != nil {
			L.Error(ctx, err, "failed to load local manifest", "manifest_file", conf.ManifestFile)
			os.Exit(1)
		}
		reg.Set(*snap)
		setManifestMetrics()
		L.Info(ctx, "loaded local manifest",
			"manifest_file", conf.ManifestFile,
			"packages", len(snap.Packages),
		)
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		s3Client := s3.NewFromConfig(awsCfg)
		ssmClient := ssm.NewFromConfig(awsCfg)

		loader, err := registry.NewLoader(registry.LoaderOptions{
			Logger:    L,
			SSMParam:  conf.ManifestSSMParam,
			S3Bucket:  conf.ManifestS3Bucket,
			S3Prefix:  conf.ManifestS3Prefix,
			SSMClient: ssmClient,
			S3Client:  s3Client,
		}, registry.BuildOptions{
			S3Client: s3Client,
			Static:   seedPkgs,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create manifest loader, manifest updates will be disabled")
		} else {
			if err := loader.LoadIntoRegistry(ctx, reg); err != nil {
				L.Error(ctx, err, "failed to load manifest, serving seed packages only")
			} else {
				setManifestMetrics()
				L.Info(ctx, "loaded manifest from S3",
					"manifest_hash", reg.ManifestHash(),
					"packages", len(reg.List()),
				)
			}

			if conf.EnableManifestUpdates {
				watcher := registry.NewWatcher(&registry.WatcherOptions{
					Logger:       L,
					Loader:       loader,
					Registry:     reg,
					PollInterval: conf.ManifestPollInterval,
					Metrics:      m,
					OnSwap: func(hash string, packages int) {
						setManifestMetrics()
					},
				})
				go watcher.Run(ctx)
			}
		}
	}

	// Resource service: normalization, resolution, open, materialize
	svc, err := resource.New(resource.Options{
		Resolver: reg,
		Logger:   L,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create resource service")
		os.Exit(1)
	}

	api := reshttp.NewAPI(svc, reg, L)

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness requires the gate open and at least one package set loaded
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(ctx context.Context) error {
			if _, ok := reg.Get(); !ok {
				return fmt.Errorf("no package set loaded")
			}
			return nil
		}),
	)

	serverOpts := &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		APIRoutes:    api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		ManifestInfo: reg,
	}

	if conf.RateRPS > 0 {
		limiter := ratelimit.New(ctx,
			ratelimit.WithRate(conf.RateRPS, conf.RateBurst),
			ratelimit.WithOnDenied(func(ip string) {
				m.IncRateLimitDenied()
			}),
			ratelimit.WithOnFirstDenied(func(ip string) {
				L.Warn(ctx, "rate limit triggered", "ip", ip)
			}),
			ratelimit.WithOnCapacity(func() {
				m.IncRateLimitCapacity()
				L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
			}),
		)
		serverOpts.RateLimitMW = limiter.Middleware
	}

	// start resource API server
	apiStop, err := httpserver.Start(ctx, serverOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = apiStop(context.Background()) }()

	// admin/ops listener for metrics, health checks and pprof
	opsStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining")

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(15 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
