package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shawkym/matrixsync/internal/matrix"
	"github.com/shawkym/matrixsync/pkg/config"
	"github.com/shawkym/matrixsync/pkg/emitter"
	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/logger"
	"github.com/shawkym/matrixsync/pkg/metrics"
	"github.com/shawkym/matrixsync/pkg/room"
	"github.com/shawkym/matrixsync/pkg/syncer"
	"github.com/shawkym/matrixsync/pkg/user"
)

var (
	configPath     string
	homeserverURL  string
	accessToken    string
	userID         string
	initialToken   string
	syncTimeout    int
	syncFilter     string
	eventLogDir    string
	disableLogging bool
	watchConfig    bool
	enableMetrics  bool
	metricsAddr    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start syncing against a Matrix homeserver",
	Long: `Start the sync loop against a Matrix homeserver. Connection settings can
come from a YAML configuration file or directly from command line flags.`,
	Run: runSync,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	runCmd.Flags().StringVar(&homeserverURL, "homeserver", "", "Homeserver base URL (e.g., https://matrix.example.com)")
	runCmd.Flags().StringVar(&accessToken, "token", "", "Access token (or set MATRIX_ACCESS_TOKEN)")
	runCmd.Flags().StringVarP(&userID, "user", "u", "", "Matrix user ID (resolved via whoami if omitted)")
	runCmd.Flags().StringVar(&initialToken, "since", "", "Resume from a previously saved sync cursor")
	runCmd.Flags().IntVar(&syncTimeout, "timeout", 30, "Long-poll timeout in seconds")
	runCmd.Flags().StringVar(&syncFilter, "filter", "", "Filter ID or inline JSON filter")
	runCmd.Flags().StringVar(&eventLogDir, "log-dir", "", "Directory to save session event logs (default: ~/.matrixsync/events)")
	runCmd.Flags().BoolVar(&disableLogging, "no-log", false, "Disable session event logging to file")
	runCmd.Flags().BoolVar(&watchConfig, "watch-config", false, "Watch config file for changes and hot-reload (requires --config)")
	runCmd.Flags().BoolVar(&enableMetrics, "metrics", false, "Serve Prometheus metrics")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Metrics listen address (default: :9090)")
}

func runSync(cobraCmd *cobra.Command, args []string) {
	var cfg *config.Config
	var err error

	if configPath != "" {
		log.WithField("config_path", configPath).Debug("loading configuration from file")
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			log.WithError(err).WithField("config_path", configPath).Error("failed to load configuration")
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		log.WithFields(map[string]interface{}{
			"config_path": configPath,
			"homeserver":  cfg.Homeserver.URL,
		}).Info("configuration loaded successfully")
	} else {
		cfg = config.NewDefaultConfig()
	}

	// Apply CLI overrides
	cobraCmd.Flags().Visit(func(flag *pflag.Flag) {
		value := flag.Value.String()
		if flag.Name == "token" {
			value = "<redacted>"
		}
		log.WithFields(map[string]interface{}{
			"flag":  flag.Name,
			"value": value,
		}).Debug("applying command line override")
	})
	if homeserverURL != "" {
		cfg.Homeserver.URL = homeserverURL
	}
	if accessToken != "" {
		cfg.Homeserver.AccessToken = accessToken
	}
	if userID != "" {
		cfg.Homeserver.UserID = userID
	}
	if initialToken != "" {
		cfg.Sync.InitialToken = initialToken
	}
	if cobraCmd.Flags().Changed("timeout") {
		cfg.Sync.TimeoutMs = syncTimeout * 1000
	}
	if syncFilter != "" {
		cfg.Sync.Filter = syncFilter
	}
	if eventLogDir != "" {
		cfg.Logging.EventLogDir = eventLogDir
	}
	if enableMetrics {
		cfg.Metrics.Enabled = true
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	if configPath == "" {
		if err := cfg.Validate(); err != nil {
			log.WithError(err).Error("invalid configuration")
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cfg.Homeserver.AccessToken == "" {
			cfg.Homeserver.AccessToken = os.Getenv("MATRIX_ACCESS_TOKEN")
		}
	}

	if err := startSync(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logLevel maps a config logging level name to its zerolog level.
func logLevel(name string) zerolog.Level {
	switch name {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func startSync(cfg *config.Config) error {
	// Set up config watcher if requested
	var configWatcher *config.ConfigWatcher
	if watchConfig && configPath != "" {
		var err error
		configWatcher, err = config.NewConfigWatcher(configPath)
		if err != nil {
			log.WithError(err).Error("failed to create config watcher")
			fmt.Fprintf(os.Stderr, "Warning: Failed to create config watcher: %v\n", err)
		} else {
			configWatcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
				log.WithFields(map[string]interface{}{
					"old_timeout": oldConfig.Sync.TimeoutMs,
					"new_timeout": newConfig.Sync.TimeoutMs,
					"old_level":   oldConfig.Logging.Level,
					"new_level":   newConfig.Logging.Level,
				}).Info("configuration file changed")

				// Logging changes take effect immediately; connection and
				// sync tuning changes need a restart.
				if newConfig.Logging.Level != oldConfig.Logging.Level || newConfig.Logging.Pretty != oldConfig.Logging.Pretty {
					log.InitLogger(os.Stderr, logLevel(newConfig.Logging.Level), newConfig.Logging.Pretty)
					log.WithField("level", newConfig.Logging.Level).Info("log level reloaded")
				}

				fmt.Println("\n📝 Configuration file changed!")
				fmt.Println("   Note: Connection changes require restarting the sync")
			})

			go configWatcher.StartWatching()
			defer configWatcher.StopWatching()

			fmt.Println("👀 Config file watching enabled (changes will be detected automatically)")
		}
	}

	client := matrix.NewClient(
		cfg.Homeserver.URL,
		cfg.Homeserver.AccessToken,
		cfg.Homeserver.UserID,
		time.Duration(cfg.Homeserver.RequestTimeoutMs)*time.Millisecond,
	)

	// Validate the token and resolve the user ID before starting the loop.
	whoamiCtx, cancelWhoami := context.WithTimeout(context.Background(), 30*time.Second)
	resolvedUser, err := client.WhoAmI(whoamiCtx)
	cancelWhoami()
	if err != nil {
		if matrix.IsUnknownToken(err) {
			return fmt.Errorf("access token rejected by homeserver: %w", err)
		}
		log.WithError(err).Warn("whoami failed, continuing with configured user ID")
		resolvedUser = cfg.Homeserver.UserID
	}
	log.WithFields(map[string]interface{}{
		"homeserver": cfg.Homeserver.URL,
		"user_id":    resolvedUser,
	}).Info("authenticated with homeserver")

	// Optional metrics server
	var m *metrics.Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(metrics.ServerConfig{Addr: cfg.Metrics.Addr})
		m = metricsServer.GetMetrics()
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Stop(shutdownCtx)
		}()
	}

	emitterOpts := []emitter.Option{}
	if m != nil {
		emitterOpts = append(emitterOpts, emitter.WithPanicHook(func(channel string, recovered interface{}) {
			m.RecordListenerPanic()
		}))
	}
	em := emitter.New(emitterOpts...)

	// Console and file event logging
	var eventLogger *logger.EventLogger
	logDir := cfg.Logging.EventLogDir
	if disableLogging {
		logDir = ""
	}
	var console *os.File
	if cfg.Logging.ConsoleEvents == nil || *cfg.Logging.ConsoleEvents {
		console = os.Stdout
	}
	if logDir != "" || console != nil {
		eventLogger, err = logger.NewEventLogger(logDir, console)
		if err != nil {
			return fmt.Errorf("failed to create event logger: %w", err)
		}
		eventLogger.Attach(em)
		defer eventLogger.Close()
	}

	rooms := room.NewRegistry()
	users := user.NewRegistry()
	processor := syncer.NewProcessor(rooms, users, em)
	session := syncer.NewSessionController(em)

	jitter := cfg.Sync.Backoff.Jitter == nil || *cfg.Sync.Backoff.Jitter
	engine := syncer.New(syncer.Config{
		Timeout:           time.Duration(cfg.Sync.TimeoutMs) * time.Millisecond,
		Filter:            cfg.Sync.Filter,
		InitialToken:      cfg.Sync.InitialToken,
		BackoffInitial:    time.Duration(cfg.Sync.Backoff.InitialMs) * time.Millisecond,
		BackoffMax:        time.Duration(cfg.Sync.Backoff.MaxMs) * time.Millisecond,
		BackoffMultiplier: cfg.Sync.Backoff.Multiplier,
		BackoffJitter:     jitter,
	}, client, processor, session)
	if m != nil {
		engine.SetMetrics(m)
	}

	if err := engine.Start(); err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}
	log.Info("sync started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		fmt.Println("\n\n⏸️  Interrupted. Shutting down gracefully...")
		engine.Stop()
		<-engine.Done()
	case <-engine.Done():
		if session.LoggedOut() {
			return fmt.Errorf("session terminated: access token rejected by homeserver")
		}
	}

	if cursor := engine.NextBatch(); cursor != "" {
		fmt.Printf("Last sync cursor: %s (resume with --since)\n", cursor)
	}
	log.Info("sync stopped")
	return nil
}
