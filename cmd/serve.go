package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parsegate/parsegate/internal/auditlog"
	"github.com/parsegate/parsegate/internal/process"
	"github.com/parsegate/parsegate/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway service",
	Long:  `Start the AI gateway in the foreground.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	serveCmd.Flags().String("log-dir", auditlog.DefaultDir, "directory for the monetization and access logs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(verbose)

	// Load configuration (file is optional; the environment can carry
	// everything).
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}
	logDir, _ := cmd.Flags().GetString("log-dir")

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting gateway",
		"host", cfg.Host,
		"port", cfg.Port,
		"provider_a_ready", cfg.ProviderA.Configured(),
		"provider_b_ready", cfg.ProviderB.Configured(),
		"premium_ready", cfg.Premium.Configured(),
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
	)

	// Setup process management
	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	// Create and start server
	srv := server.New(cfgMgr, logDir, logger)
	return srv.Start()
}
