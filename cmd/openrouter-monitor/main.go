// Package main is the entry point for the OpenRouter usage monitor. It
// dispatches subcommands to the service manager and prints JSON results;
// rich rendering is left to wrapping tooling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/j-veylop/openrouter-monitor/internal/config"
	"github.com/j-veylop/openrouter-monitor/internal/history"
	"github.com/j-veylop/openrouter-monitor/internal/logger"
	"github.com/j-veylop/openrouter-monitor/internal/models"
	"github.com/j-veylop/openrouter-monitor/internal/services"
	"github.com/j-veylop/openrouter-monitor/internal/version"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-v" || os.Args[1] == "--version") {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	command := "status"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	cfg, err := config.Load(os.Getenv("OPENROUTER_MONITOR_DIR"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Quiet {
		logger.SetQuiet()
	}

	manager, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if closeErr := manager.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "status":
		snap, err := manager.GetStatus(ctx, statusOptions(args))
		if err != nil {
			return err
		}
		return printJSON(snap)

	case "limits":
		report, err := manager.GetLimits(ctx, statusOptions(args))
		if err != nil {
			return err
		}
		return printJSON(report)

	case "watch":
		return watch(ctx, manager, cfg, statusOptions(args))

	case "history":
		records, err := manager.GetHistory(history.QueryOptions{SinceDays: intArg(args, 0)})
		if err != nil {
			return err
		}
		return printJSON(records)

	case "alerts":
		alerts, err := manager.GetAlertHistory(history.AlertQueryOptions{SinceDays: intArg(args, 0)})
		if err != nil {
			return err
		}
		return printJSON(alerts)

	case "history-stats":
		stats, err := manager.GetStatistics(history.StatsOptions{SinceDays: intArg(args, 0)})
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "clear":
		deleted, err := manager.ClearHistory(history.ClearOptions{OlderThanDays: intArg(args, 0)})
		if err != nil {
			return err
		}
		return printJSON(map[string]int{"deleted": deleted})

	case "test-key":
		if len(args) < 1 {
			return errors.New("usage: test-key <api-key>")
		}
		snap, err := manager.TestAPIKey(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(snap)

	case "record":
		keyID, model := "", ""
		if len(args) > 0 {
			keyID = args[0]
		}
		if len(args) > 1 {
			model = args[1]
		}
		if err := manager.RecordRequest(keyID, model); err != nil {
			return err
		}
		return printJSON(manager.GetTodayStats())

	case "stats":
		return printJSON(manager.GetRequestStats(intArg(args, 0)))

	case "keys":
		return keysCommand(manager, args)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// watch runs the polling loop until interrupted or the failure ceiling.
func watch(ctx context.Context, manager *services.Manager, cfg *config.Config, opts services.StatusOptions) error {
	monitorOpts := services.MonitorOptions{StatusOptions: opts}
	if !cfg.Quiet {
		monitorOpts.OnCheck = func(snap *models.StatusSnapshot) {
			if err := printJSON(snap); err != nil {
				logger.Warn("failed to print snapshot", "error", err)
			}
		}
	}
	monitorOpts.OnWarning = func(message string, threshold, actual int) {
		logger.Warn("usage warning",
			"message", message,
			"threshold", threshold,
			"actual", actual)
	}
	monitorOpts.OnAlert = func(alertType models.AlertType, message string, threshold, actual int) {
		logger.Warn("usage alert",
			"type", string(alertType),
			"message", message,
			"threshold", threshold,
			"actual", actual)
	}

	controller, err := manager.StartMonitoring(ctx, monitorOpts)
	if err != nil {
		return err
	}

	<-controller.Done()
	return controller.Err()
}

func keysCommand(manager *services.Manager, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: keys <add|remove|list>")
	}

	switch args[0] {
	case "add":
		if len(args) < 3 {
			return errors.New("usage: keys add <name> <api-key>")
		}
		if err := manager.Keys().Add(args[1], args[2]); err != nil {
			return err
		}
		return printJSON(manager.Keys().List())

	case "remove":
		if len(args) < 2 {
			return errors.New("usage: keys remove <name>")
		}
		if err := manager.Keys().Remove(args[1]); err != nil {
			return err
		}
		return printJSON(manager.Keys().List())

	case "list":
		return printJSON(manager.Keys().List())

	default:
		return fmt.Errorf("unknown keys subcommand %q", args[0])
	}
}

// statusOptions interprets an optional trailing argument as a stored key
// name, or a raw key when it looks like one.
func statusOptions(args []string) services.StatusOptions {
	if len(args) == 0 {
		return services.StatusOptions{}
	}
	if len(args[0]) > 8 && args[0][:3] == "sk-" {
		return services.StatusOptions{APIKey: args[0]}
	}
	return services.StatusOptions{KeyName: args[0]}
}

func intArg(args []string, fallback int) int {
	if len(args) == 0 {
		return fallback
	}
	if n, err := strconv.Atoi(args[0]); err == nil {
		return n
	}
	return fallback
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
