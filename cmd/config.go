package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/parsegate/parsegate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the AI gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long:  `Write a starter configuration file with placeholder provider keys.`,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the resolved configuration with secrets redacted.`,
	RunE:  runConfigShow,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	if cfgMgr.Exists() {
		color.Yellow("Configuration already exists at %s", cfgMgr.GetPath())
		return nil
	}

	starter := &config.Config{
		ProviderA: config.Provider{APIKey: "REPLACE_WITH_SILICONFLOW_KEY"},
		ProviderB: config.Provider{APIKey: "REPLACE_WITH_GROQ_KEY"},
		Premium:   config.Provider{APIKey: "REPLACE_WITH_DEEPSEEK_KEY"},
	}

	if err := cfgMgr.Save(starter); err != nil {
		return err
	}

	color.Green("Wrote starter configuration to %s", cfgMgr.GetPath())
	color.Yellow("Replace the REPLACE_WITH_ placeholders (or set the provider environment variables) before serving traffic.")
	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	redacted := *cfg
	redacted.ParseKey = redactSecret(redacted.ParseKey)
	redacted.APIKeys = redactList(redacted.APIKeys)
	redacted.ProviderA.APIKey = redactSecret(redacted.ProviderA.APIKey)
	redacted.ProviderB.APIKey = redactSecret(redacted.ProviderB.APIKey)
	redacted.Premium.APIKey = redactSecret(redacted.Premium.APIKey)

	data, err := json.MarshalIndent(redacted, "", "  ")
	if err != nil {
		return err
	}

	color.Blue("Resolved configuration (%s):", cfgMgr.GetPath())
	fmt.Println(string(data))
	return nil
}

func redactSecret(s string) string {
	if s == "" || strings.HasPrefix(s, config.PlaceholderPrefix) {
		return s
	}
	if len(s) <= 6 {
		return "******"
	}
	return s[:3] + "..." + s[len(s)-2:]
}

func redactList(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = redactSecret(k)
	}
	return out
}
