package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parsegate/parsegate/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway service status",
	Long:  `Display the current status of the AI gateway, including a live health probe.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()
	pid := procMgr.ReadPID()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", pid)

	if cfg != nil {
		fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
		fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
		fmt.Printf("  %-15s: %s\n", "Endpoint", fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port))
		fmt.Printf("  %-15s: %d/min\n", "Rate Limit", cfg.RateLimitPerMinute)
		fmt.Printf("  %-15s: %v\n", "Provider A", cfg.ProviderA.Configured())
		fmt.Printf("  %-15s: %v\n", "Provider B", cfg.ProviderB.Configured())
		fmt.Printf("  %-15s: %v\n", "Premium", cfg.Premium.Configured())
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)

	if running && cfg != nil {
		probeHealth(fmt.Sprintf("http://%s:%d/v1/parse/health", cfg.Host, cfg.Port))
	}
}

func probeHealth(url string) {
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		color.Red("  Health probe failed: %v", err)
		return
	}
	defer resp.Body.Close()

	var body struct {
		OK      bool   `json:"ok"`
		Service string `json:"service"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.OK {
		color.Red("  Health probe returned an unexpected response")
		return
	}

	color.Green("  Health: OK (%s)", body.Service)
}
