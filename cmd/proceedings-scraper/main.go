package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/proceedings-scraper/pkg/cache"
	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/download"
	"github.com/Sriram-PR/proceedings-scraper/pkg/fetch"
	"github.com/Sriram-PR/proceedings-scraper/pkg/orchestrate"
	"github.com/Sriram-PR/proceedings-scraper/pkg/report"
	"github.com/Sriram-PR/proceedings-scraper/pkg/sequence"
	"github.com/Sriram-PR/proceedings-scraper/pkg/storage"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case "collections", "subcollections", "details":
		stage, _ := orchestrate.ParseStage(cmd)
		runStages(cmd, os.Args[2:], []orchestrate.Stage{stage})
	case "crawl":
		runStages(cmd, os.Args[2:], orchestrate.Stages)
	case "download":
		runDownload(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("proceedings-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `proceedings-scraper - Conference proceedings crawler

Usage:
  proceedings-scraper <command> [options]

Commands:
  collections     Read the start pages into collection records
  subcollections  Read every stored collection into sub-collection records
  details         Read every stored sub-collection into detail records
  crawl           Run collections, subcollections and details in order
  download        Download the artifacts referenced by detail records
  report          Write the stored records as a LaTeX outline
  validate        Validate configuration file
  version         Show version info

Run 'proceedings-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadAndValidateConfig loads the config file and validates the global and site sections.
// Warnings are logged; an invalid site is an error.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}

	siteWarnings, err := appCfg.Site.Validate()
	for _, w := range siteWarnings {
		log.Warnf("[site] %s", w)
	}
	if err != nil {
		return nil, fmt.Errorf("site: %w", err)
	}
	return appCfg, nil
}

// commonFlags registers the flags every pipeline command takes
type commonFlags struct {
	configFile *string
	logLevel   *string
	pprofAddr  *string
}

func newFlagSet(name, usageLine string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cf := commonFlags{
		configFile: fs.String("config", "config.yaml", "Path to config file"),
		logLevel:   fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)"),
		pprofAddr:  fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)"),
	}
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: proceedings-scraper %s [options]\n\n%s\n\nOptions:\n", name, usageLine)
		fs.PrintDefaults()
	}
	return fs, cf
}

// runStages handles the crawl stage subcommands
func runStages(name string, args []string, stages []orchestrate.Stage) {
	fs, cf := newFlagSet(name, "Runs the crawl stages: "+fmt.Sprint(stages))
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(runPipeline(*cf.configFile, *cf.logLevel, *cf.pprofAddr, func(ctx context.Context, p *pipeline) error {
		return executeStages(ctx, p, stages)
	}))
}

// runDownload handles the download subcommand
func runDownload(args []string) {
	fs, cf := newFlagSet("download", "Downloads every artifact not yet marked complete")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(runPipeline(*cf.configFile, *cf.logLevel, *cf.pprofAddr, executeDownload))
}

// runReport handles the report subcommand
func runReport(args []string) {
	fs, cf := newFlagSet("report", "Writes the stored records as LaTeX")
	outFile := fs.String("out", "result.tex", "Report file ('-' for stdout)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(runPipeline(*cf.configFile, *cf.logLevel, *cf.pprofAddr, func(ctx context.Context, p *pipeline) error {
		if *outFile == "-" {
			return executeReport(ctx, p, os.Stdout)
		}
		f, err := os.Create(*outFile)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		if err := executeReport(ctx, p, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close report file: %w", err)
		}
		p.log.Infof("Report saved to %s", *outFile)
		return nil
	}))
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: proceedings-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	siteWarnings, err := appCfg.Site.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: [site] %v\n", err)
		return 1
	}
	for _, w := range siteWarnings {
		fmt.Fprintf(stdout, "WARN: [site] %s\n", w)
	}
	fmt.Fprintf(stdout, "OK: [site] %s (%d start URLs, %d kind rules)\n",
		appCfg.Site.BaseURL, len(appCfg.Site.StartURLs), len(appCfg.Site.KindRules))

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// setupLogger creates a configured logrus.Logger with the given log level.
func setupLogger(logLevelStr string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Infof("Setting log level to: %s", level.String())
	}

	return log
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	go func() {
		log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("pprof server error: %v", err)
		}
	}()
}

// runPipeline loads the config, sets up the run context with signal handling, opens the
// pipeline, runs fn and maps the outcome to an exit code.
func runPipeline(configFile, logLevel, pprofAddr string, fn func(ctx context.Context, p *pipeline) error) int {
	log := setupLogger(logLevel)
	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Errorf("Config error: %v", err)
		return 1
	}
	logAppConfig(appCfg, log)
	startPprof(pprofAddr, log)

	var runCtx context.Context
	var cancelRun context.CancelFunc
	if appCfg.GlobalRunTimeout > 0 {
		log.Infof("Setting global run timeout: %v", appCfg.GlobalRunTimeout)
		runCtx, cancelRun = context.WithTimeout(context.Background(), appCfg.GlobalRunTimeout)
	} else {
		runCtx, cancelRun = context.WithCancel(context.Background())
	}
	defer cancelRun()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig, ok := <-sigChan
		if !ok {
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelRun()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	p, err := openPipeline(runCtx, appCfg, logrus.NewEntry(log))
	if err != nil {
		log.Errorf("Failed to initialize: %v", err)
		return 1
	}
	err = fn(runCtx, p)
	p.Close()

	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			log.Warn("Run cancelled gracefully.")
			return 0
		case errors.Is(err, context.DeadlineExceeded):
			log.Error("Run timed out (global timeout).")
			return 1
		default:
			log.Errorf("Run finished with error: %v", err)
			return 1
		}
	}
	log.Info("Run completed successfully.")
	return 0
}

// pipeline holds the components shared by every command for one run
type pipeline struct {
	cfg     *config.AppConfig
	log     *logrus.Entry
	store   storage.DocumentStore
	colls   *storage.Collections
	alloc   sequence.Allocator
	limiter *fetch.HostLimiter
	fetcher *fetch.Fetcher
	cache   *cache.CachedFetcher
	run     int64

	stopEviction context.CancelFunc
}

// openPipeline opens the store and cache, builds the HTTP stack and allocates the run ordinal
// that every record written by this invocation carries.
func openPipeline(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry) (_ *pipeline, err error) {
	p := &pipeline{cfg: cfg, log: log, stopEviction: func() {}}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	if p.store, err = storage.Open(ctx, cfg, log); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if p.colls, err = storage.OpenCollections(ctx, p.store, cfg.Store); err != nil {
		return nil, fmt.Errorf("open collections: %w", err)
	}
	if p.alloc, err = sequence.New(cfg, p.store, log); err != nil {
		return nil, fmt.Errorf("open sequence allocator: %w", err)
	}
	if p.run, err = p.alloc.Next(ctx, cfg.Sequence.RunCounter); err != nil {
		return nil, fmt.Errorf("allocate run ordinal: %w", err)
	}
	p.colls.SetRun(p.run)
	log.WithField("run", p.run).Info("Run ordinal allocated")

	p.limiter = fetch.NewHostLimiter(cfg.MaxRequestsPerHost, cfg.DefaultDelayPerHost, log.WithField("component", "host_limiter"))
	evictCtx, cancel := context.WithCancel(ctx)
	p.stopEviction = cancel
	go p.limiter.RunEviction(evictCtx, time.Minute)

	headers := fetch.DefaultHeaders(config.GetEffectiveUserAgent(cfg.Site, *cfg), cfg.Site.Cookie)
	client := fetch.NewClient(cfg.HTTPClientSettings, headers, log)
	p.fetcher = fetch.NewFetcher(client, cfg, p.limiter, log.WithField("component", "fetcher"))

	if p.cache, err = cache.New(ctx, cfg, p.fetcher, log); err != nil {
		return nil, fmt.Errorf("open http cache: %w", err)
	}
	return p, nil
}

// Close releases everything openPipeline acquired. Safe on a partly opened pipeline.
func (p *pipeline) Close() {
	p.stopEviction()
	if p.cache != nil {
		p.cache.LogStats()
		if err := p.cache.Close(); err != nil {
			p.log.Errorf("Error closing HTTP cache: %v", err)
		}
	}
	if c, ok := p.alloc.(io.Closer); ok {
		if err := c.Close(); err != nil {
			p.log.Errorf("Error closing sequence allocator: %v", err)
		}
	}
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			p.log.Errorf("Error closing store: %v", err)
		}
	}
}

func executeStages(ctx context.Context, p *pipeline, stages []orchestrate.Stage) error {
	o := orchestrate.NewOrchestrator(p.cfg, p.cfg.Site, p.cache, p.colls, p.log)
	if len(stages) == len(orchestrate.Stages) {
		_, err := o.RunAll(ctx)
		return err
	}
	for _, s := range stages {
		if _, err := o.Run(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func executeDownload(ctx context.Context, p *pipeline) error {
	_, err := download.NewDownloader(p.cfg, p.cfg.Site, p.colls, p.fetcher, p.log).Run(ctx)
	return err
}

func executeReport(ctx context.Context, p *pipeline, w io.Writer) error {
	_, err := report.NewReporter(p.colls, p.log).RenderLaTeX(ctx, w)
	return err
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, DownloadWorkers:%d, MaxReqPerHost:%d, DefaultDelay:%v",
		appCfg.NumWorkers, appCfg.NumDownloadWorkers, appCfg.MaxRequestsPerHost, appCfg.DefaultDelayPerHost)
	log.Infof("Global Config: StateDir:%s, OutputDir:%s, GlobalRun:%v",
		appCfg.StateDir, appCfg.OutputBaseDir, appCfg.GlobalRunTimeout)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
	log.Infof("Global Config Cache: Disabled:%t, ExpireAfter:%v, StaleIfError:%t",
		appCfg.Cache.Disabled, appCfg.Cache.ExpireAfter, config.GetEffectiveStaleIfError(appCfg.Cache))
	log.Infof("Global Config Store: Backend:%s, Sequence:%s, RunCounter:%s",
		appCfg.Store.Backend, appCfg.Sequence.Backend, appCfg.Sequence.RunCounter)
}
