// Package cmd implements the idm CLI: submit/list/pause/resume/cancel
// against a local Brain, following the teacher's flag/env-var-fallback and
// graceful-shutdown conventions.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"idm/brain"
	"idm/controlplane"
	"idm/extractor"
	"idm/internal"
	"idm/metrics"
	"idm/mux"
	"idm/observer"
	"idm/ratelimit"
	"idm/transport"
)

var (
	outputDir   string
	filename    string
	connections int
	rateLimit   string
	quiet       bool
	proxyURL    string
	debug       bool
	logLevel    string
	logFile     string
	workDir     string
	configFile  string
	config      *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "idm [OPTIONS] <URL>",
	Short:   "Multi-connection download engine",
	Version: "v1.0.0",
	Long: `idm is a multi-threaded download engine with segment-level resume,
bandwidth shaping, and HLS/DASH media pipeline support.

Examples:
  idm https://example.com/file.zip
  idm -o ./downloads -n 16 https://example.com/file.zip
  idm -r 5M --proxy socks5://127.0.0.1:1080 https://example.com/video.m3u8

Environment Variables:
  IDM_CONNECTIONS   Default number of connections per job (1-32)
  IDM_LOG_LEVEL     Log level (debug, info, warn, error)
  IDM_LOG_FILE      Write logs to file instead of stderr`,
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(); err != nil {
			return fmt.Errorf("configuration error: %v", err)
		}
		if err := internal.InitLogger(config); err != nil {
			return fmt.Errorf("failed to initialize logger: %v", err)
		}
		internal.LogInfo("idm starting up")
		return nil
	},
	RunE: runSubmit,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List known jobs and their status",
	RunE:  runList,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobAction("pause", func(sched *schedulerAdapter, jobID string) error { return sched.Pause(jobID) }),
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused or pending job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobAction("resume", func(sched *schedulerAdapter, jobID string) error { return sched.Start(jobID) }),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobAction("cancel", func(sched *schedulerAdapter, jobID string) error { return sched.Cancel(jobID) }),
}

func loadConfiguration() error {
	config = internal.DefaultConfig()
	config.LoadFromEnv()

	if debug {
		config.EnableDebug = true
		config.LogLevel = "debug"
	}
	if quiet {
		config.QuietMode = true
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFile != "" {
		config.LogFile = logFile
	}
	if configFile != "" {
		config.ConfigFilePath = configFile
	}

	return config.ValidateConfig()
}

func buildBrain() (*brain.Brain, *metrics.Collector, error) {
	t, err := transport.New(transport.Config{
		ConnectTimeout:  config.ConnectTimeout,
		IdleReadTimeout: config.IdleReadTimeout,
		ProxyURL:        proxyURL,
		Backoff: transport.BackoffConfig{
			Base:        config.BackoffBase,
			Cap:         config.BackoffCap,
			Jitter:      config.BackoffJitter,
			MaxAttempts: config.MaxWorkerRetries,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build transport: %w", err)
	}

	limiter := ratelimit.New(config.GlobalSpeedLimit)

	bc := observer.New()
	bc.Register(observer.NewCLIObserver(config.QuietMode))
	collector := metrics.NewCollector(nil)
	bc.Register(collector)

	ext := extractor.New(t)
	muxer := mux.New("")

	dir := workDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "idm")
	}

	b := brain.New(config, dir, t, limiter, bc, ext, muxer)
	return b, collector, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	url := args[0]

	if !cmd.Flags().Changed("connections") {
		connections = config.DefaultConnectionsPerJob
	}

	var speedLimit int64
	if rateLimit != "" {
		var err error
		speedLimit, err = ratelimit.ParseRate(rateLimit)
		if err != nil {
			return fmt.Errorf("invalid rate limit %q: %w", rateLimit, err)
		}
	}

	b, collector, err := buildBrain()
	if err != nil {
		return err
	}
	serveControlPlane(b, collector)

	if err := internal.WatchHotConfig(config.ConfigFilePath, func(knobs internal.HotKnobs) {
		b.SetGlobalSpeedLimit(knobs.GlobalSpeedLimit)
		b.SetMaxConcurrent(knobs.MaxConcurrent)
	}); err != nil {
		internal.LogWarn("hot config watch failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		internal.LogInfo("received interrupt, shutting down")
		cancel()
	}()

	if err := b.Restore(ctx); err != nil {
		internal.LogWarn("restore failed: %v", err)
	}

	spec := internal.DownloadSpec{
		URL:         url,
		Folder:      outputDir,
		Filename:    filename,
		Connections: connections,
		SpeedLimit:  speedLimit,
	}

	jobID, err := b.Submit(ctx, spec)
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	if !quiet {
		fmt.Printf("submitted job %s\n", jobID)
	}

	<-ctx.Done()
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	b, _, err := buildBrain()
	if err != nil {
		return err
	}
	if err := b.Restore(context.Background()); err != nil {
		internal.LogWarn("restore failed: %v", err)
	}
	for _, job := range b.List() {
		fmt.Printf("%s\t%s\t%s\n", job.ID, job.Status, job.URL)
	}
	return nil
}

// runJobAction builds the same local Brain used by submit/list, restores
// its job registry from disk, and applies action to the job named on the
// command line. This mirrors what the HTTP control plane does for the same
// operations (controlplane.go's /start, /pause, /cancel routes) so the CLI
// and the REST surface share one code path through schedulerAdapter.
func runJobAction(verb string, action func(sched *schedulerAdapter, jobID string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		jobID := args[0]

		b, _, err := buildBrain()
		if err != nil {
			return err
		}
		if err := b.Restore(context.Background()); err != nil {
			internal.LogWarn("restore failed: %v", err)
		}

		sched := newSchedulerAdapter(b)
		if err := action(sched, jobID); err != nil {
			return fmt.Errorf("%s failed: %w", verb, err)
		}
		if !quiet {
			fmt.Printf("%s: job %s\n", verb, jobID)
		}
		return nil
	}
}

// serveControlPlane starts the optional HTTP control surface and metrics
// endpoint (§6) bound to config.ControlAddr/MetricsAddr.
func serveControlPlane(b *brain.Brain, collector *metrics.Collector) {
	if config.ControlAddr == "" {
		return
	}
	sched := newSchedulerAdapter(b)
	var metricsHandler http.Handler
	if config.MetricsAddr == "" || config.MetricsAddr == config.ControlAddr {
		metricsHandler = metrics.Handler(nil)
	}
	router := controlplane.NewRouter(sched, metricsHandler)
	go http.ListenAndServe(config.ControlAddr, router)
}

func init() {
	config = internal.DefaultConfig()

	rootCmd.AddCommand(listCmd, pauseCmd, resumeCmd, cancelCmd)

	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory")
	rootCmd.Flags().StringVarP(&filename, "filename", "f", "", "Override output filename")
	rootCmd.Flags().IntVarP(&connections, "connections", "n", config.DefaultConnectionsPerJob, "Number of connections per job")
	rootCmd.Flags().StringVarP(&rateLimit, "limit-rate", "r", "", "Bandwidth limit (e.g., 5M for 5MB/s)")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bar output")
	rootCmd.Flags().StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS proxy URL")
	rootCmd.Flags().StringVar(&workDir, "work-dir", "", "Directory for job manifests and temp files")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to idm.yaml for hot-tunable defaults")

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr")
}

func Execute() error {
	return rootCmd.Execute()
}
