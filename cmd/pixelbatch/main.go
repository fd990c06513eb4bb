// Command pixelbatch applies a chain of transforms to a set of images and
// writes each result to a path derived from a filename template.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dunamismax/pixelbatch/internal/batch"
	"github.com/dunamismax/pixelbatch/internal/config"
	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/dunamismax/pixelbatch/internal/logging"
	"github.com/dunamismax/pixelbatch/internal/naming"
	"github.com/dunamismax/pixelbatch/internal/pipeline"
	"github.com/dunamismax/pixelbatch/internal/storage"
	"github.com/dunamismax/pixelbatch/internal/transform"
)

const (
	exitOK         = 0
	exitItemFailed = 1
	exitUsage      = 2
)

func main() {
	if err := pipeline.Startup(); err != nil {
		fmt.Fprintf(os.Stderr, "pixelbatch: image runtime: %v\n", err)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	pipeline.Shutdown()
	os.Exit(code)
}

type options struct {
	template    string
	inPlace     bool
	steps       []string
	metricsAddr string
	inputs      []string
}

func parseFlags(args []string, stderr io.Writer) (options, *viper.Viper, error) {
	var opts options
	fs := pflag.NewFlagSet("pixelbatch", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: pixelbatch [flags] inputs...")
		fs.PrintDefaults()
	}

	fs.StringVarP(&opts.template, "template", "t", "", "output filename template (%f name, %x extension, %p dir, %c input, %0-%9 index)")
	fs.BoolVar(&opts.inPlace, "in-place", false, "overwrite each input (same as --template %c)")
	fs.StringArrayVarP(&opts.steps, "step", "s", nil, "transform step action:key=value,... (repeatable, applied in order)")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the batch runs")
	fs.IntP("workers", "j", 0, "items processed at once (0 = GOMAXPROCS)")
	fs.String("store", domain.StoreLocal, "where inputs and outputs live: local or s3")
	fs.Int("jpeg-quality", 90, "JPEG and WebP output quality")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", logging.FormatConsole, "log format: console, json or auto")

	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	opts.inputs = fs.Args()

	v := viper.New()
	bindings := map[string]string{
		"batch.workers":      "workers",
		"batch.store":        "store",
		"batch.jpeg_quality": "jpeg-quality",
		"log.level":          "log-level",
		"log.format":         "log-format",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return options{}, nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return opts, v, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, v, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		return exitUsage
	}

	cfg, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(stderr, "pixelbatch: %v\n", err)
		return exitUsage
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "cli"}, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "pixelbatch: %v\n", err)
		return exitUsage
	}

	tmpl, p, err := build(opts, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("invalid arguments")
		return exitUsage
	}

	inputs, err := expandInputs(ctx, opts.inputs, p.Store())
	if err != nil {
		logger.Error().Err(err).Msg("list inputs")
		return exitUsage
	}
	if len(inputs) == 0 {
		logger.Error().Msg("no inputs given")
		return exitUsage
	}

	registry := prometheus.NewRegistry()
	metrics := batch.NewMetrics(registry)
	if opts.metricsAddr != "" {
		stopMetrics := serveMetrics(opts.metricsAddr, registry, logger)
		defer stopMetrics()
	}

	started := time.Now()
	outcomes := batch.Run(ctx, inputs, p, tmpl, cfg.Batch.Workers,
		batch.WithLogger(batch.ZerologLogger{Logger: logger}),
		batch.WithMetrics(metrics),
	)

	failed := outcomes.Failed()
	for _, o := range outcomes {
		if o.OK() {
			fmt.Fprintf(stdout, "%s -> %s\n", o.Source, o.OutputPath)
		}
	}
	logger.Info().
		Int("items", len(outcomes)).
		Int("succeeded", outcomes.Succeeded()).
		Int("failed", len(failed)).
		Dur("elapsed", time.Since(started)).
		Msg("batch finished")

	if len(failed) > 0 {
		return exitItemFailed
	}
	return exitOK
}

// build validates the template and steps before any input is touched.
func build(opts options, cfg config.Config) (*naming.Template, *pipeline.Pipeline, error) {
	templateText := opts.template
	switch {
	case opts.inPlace && templateText != "":
		return nil, nil, errors.New("--in-place and --template are mutually exclusive")
	case opts.inPlace:
		templateText = "%c"
	case templateText == "":
		return nil, nil, errors.New("--template or --in-place is required")
	}

	tmpl, err := naming.Parse(templateText)
	if err != nil {
		return nil, nil, fmt.Errorf("template: %w", err)
	}

	steps := make([]domain.Step, 0, len(opts.steps))
	for _, s := range opts.steps {
		step, err := domain.ParseStep(s)
		if err != nil {
			return nil, nil, err
		}
		steps = append(steps, step)
	}
	transforms, err := transform.FromSteps(steps)
	if err != nil {
		return nil, nil, err
	}

	imgStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return tmpl, pipeline.New(imgStore, transforms...), nil
}

func openStore(cfg config.Config) (pipeline.Store, error) {
	switch domain.StoreKind(cfg.Batch.Store) {
	case domain.StoreLocal:
		return pipeline.LocalStore{JPEGQuality: cfg.Batch.JPEGQuality}, nil
	case domain.StoreObject:
		client, err := storage.NewClient(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		return objectStore{ObjectStore: pipeline.ObjectStore{Storage: client, JPEGQuality: cfg.Batch.JPEGQuality}, lister: client}, nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Batch.Store)
	}
}

type keyLister interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// objectStore adds prefix listing so "scans/" expands to every key under it.
type objectStore struct {
	pipeline.ObjectStore
	lister keyLister
}

func expandInputs(ctx context.Context, args []string, s pipeline.Store) ([]pipeline.Input, error) {
	lister, _ := s.(objectStore)
	inputs := make([]pipeline.Input, 0, len(args))
	for _, arg := range args {
		if lister.lister != nil && strings.HasSuffix(arg, "/") {
			keys, err := lister.lister.ListKeys(ctx, strings.TrimLeft(arg, "/"))
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				inputs = append(inputs, pipeline.FileInput(key))
			}
			continue
		}
		inputs = append(inputs, pipeline.FileInput(arg))
	}
	return inputs, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger zerolog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
