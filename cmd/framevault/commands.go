package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"framevault/internal/config"
	"framevault/internal/reconcile"
)

// --- sync ---

var syncDryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass against the ledger",
	Long: `Compare every cached artifact against the ledger's mutation counters and
regenerate whatever is missing or stale. With --dry-run, only classify and
report; render nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync()
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "classify only, do not regenerate")
}

func runSync() error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer c.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var report *reconcile.Report
	if syncDryRun {
		report, err = c.engine.Classify(ctx)
	} else {
		report, err = c.engine.Run(ctx)
	}
	if err != nil {
		return err
	}

	printReport(report, syncDryRun)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d remediations failed", report.Failed, report.Remediated())
	}
	return nil
}

func printReport(report *reconcile.Report, dryRun bool) {
	rows := []metricRow{
		{"Total supply", strconv.FormatInt(report.TotalSupply, 10)},
		{"Up to date", strconv.Itoa(report.UpToDate)},
		{"Missing", strconv.Itoa(len(report.Missing))},
		{"Stale", strconv.Itoa(len(report.Stale))},
		{"Read errors", strconv.Itoa(len(report.ReadErrors))},
	}
	if !dryRun {
		rows = append(rows,
			metricRow{"Regenerated", strconv.Itoa(report.Succeeded)},
			metricRow{"Failed", strconv.Itoa(report.Failed)},
		)
	}
	rows = append(rows, metricRow{"Elapsed", report.Duration().Round(time.Millisecond).String()})

	fmt.Println(renderMetricTable(rows))

	for _, re := range report.ReadErrors {
		printWarning("item %d: ledger/storage read failed, re-rendered: %v", re.ItemID, re.Err)
	}
	for _, fi := range report.FailedItems {
		printError("item %d: %v", fi.ItemID, fi.Err)
	}
	if dryRun {
		if pending := len(report.Missing) + len(report.Stale); pending > 0 {
			printWarning("%d item(s) need regeneration (dry run, nothing rendered)", pending)
		} else {
			printSuccess("cache is current")
		}
		return
	}
	if report.Failed == 0 {
		printSuccess("reconciliation complete")
	}
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show framevault status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	healthURL := "http://" + cfg.Server.Bind + "/health"
	serverUp := false
	if resp, err := client.Get(healthURL); err == nil {
		resp.Body.Close()
		serverUp = resp.StatusCode == http.StatusOK
	}
	if serverUp {
		printStatus("Server", "running on %s", cfg.Server.Bind)
	} else {
		printStatus("Server", "stopped")
	}

	printStatus("Storage", "%s backend, data dir %s", cfg.Storage.Backend, cfg.Storage.DataDir)
	printStatus("Ledger", "%s", orUnset(cfg.Ledger.BaseURL))
	printStatus("Renderer", "%s (concurrency %d)", orUnset(cfg.Renderer.BaseURL), cfg.Renderer.Concurrency)
	if interval := cfg.SyncInterval(); interval > 0 {
		printStatus("Auto sync", "every %s", interval)
	} else {
		printStatus("Auto sync", "disabled")
	}

	// Count cached artifacts directly only when no server holds the store.
	if !serverUp && cfg.Storage.Backend != "memory" {
		if err := printArtifactCount(cfg); err != nil {
			printWarning("could not inspect artifact store: %v", err)
		}
	}
	return nil
}

func printArtifactCount(cfg config.Config) error {
	c, err := buildCoreFromConfig(cfg)
	if err != nil {
		return err
	}
	defer c.close()

	descs, err := c.store.List(context.Background())
	if err != nil {
		return err
	}
	printStatus("Artifacts", "%d cached", len(descs))
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not configured)"
	}
	return s
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialize configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		printStatus("Config file", "%s", configPath)
		printStatus("Bind", "%s", cfg.Server.Bind)
		printStatus("Auth", "%s", enabledLabel(cfg.Server.APIToken != ""))
		printStatus("Backend", "%s", cfg.Storage.Backend)
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		printStatus("Ledger URL", "%s", orUnset(cfg.Ledger.BaseURL))
		printStatus("Renderer URL", "%s", orUnset(cfg.Renderer.BaseURL))
		printStatus("Render timeout", "%s", cfg.RenderTimeout())
		printStatus("Max batch", "%d", cfg.Jobs.MaxBatch)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an annotated sample config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteSample(configPath); err != nil {
			return err
		}
		printSuccess("wrote %s", configPath)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd)
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
