// Envshadow is an environmental sensor agent for AWS IoT.
//
// It reads temperature, humidity and pressure, publishes them as telemetry and takes its send configuration from the
// thing's device shadow. Configuration is loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]) and overlaid with ENVSHADOW_* environment variables.
//
// Usage:
//
//	envshadow run               Start the agent
//	envshadow history [-n N]    Print the most recent journal entries
//	envshadow version           Print version information
//	envshadow -o json version   Print version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nlowe/envshadow"
	"github.com/nlowe/envshadow/config"
	"github.com/nlowe/envshadow/journal"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses args by hand so it can be called from tests without touching flag.CommandLine. Logs go to stdout, and
// the error returned to main is printed on stderr.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}

			cmdArgs = append(cmdArgs, args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "run":
		return runAgent(ctx, stdout, configPath)
	case "history":
		limit, err := parseLimit(cmdArgs)
		if err != nil {
			return err
		}
		return runHistory(ctx, stdout, configPath, limit, outputFmt)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func parseLimit(args []string) (int, error) {
	limit := 20

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-n" && i+1 < len(args):
			v, err := strconv.Atoi(args[i+1])
			if err != nil || v <= 0 {
				return 0, fmt.Errorf("history: -n must be a positive number, got %q", args[i+1])
			}
			limit = v
			i++
		default:
			return 0, fmt.Errorf("usage: envshadow history [-n N]")
		}
	}

	return limit, nil
}

func loadConfig(configPath string) (*config.Config, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, err
	}

	return config.Load(path)
}

func runHistory(ctx context.Context, w io.Writer, configPath string, limit int, outputFmt string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Journal.Path == "" {
		return errors.New("history: journal.path is not configured")
	}

	store, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer store.Close()

	entries, err := store.Recent(ctx, limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORDED\tSEQ\tOUTCOME\tTEMPERATURE\tHUMIDITY\tPRESSURE\tFAULT")
	for _, e := range entries {
		fault := ""
		if e.Reading.Faulted() {
			fault = e.Reading.Fault.String()
		}

		fmt.Fprintf(tw, "%s\t%d\t%s\t%.1f %s\t%.1f\t%.0f\t%s\n",
			e.Recorded.Local().Format("2006-01-02 15:04:05"),
			e.Sequence,
			e.Outcome,
			e.Reading.Temperature, e.Reading.Symbol,
			e.Reading.Humidity,
			e.Reading.Pressure,
			fault,
		)
	}

	return tw.Flush()
}

func runVersion(w io.Writer, outputFmt string) error {
	info := map[string]string{
		"version":    envshadow.Version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(w, "envshadow %s\n", envshadow.Version)
	for _, k := range []string{"go_version", "os", "arch"} {
		fmt.Fprintf(w, "  %-12s %s\n", k+":", info[k])
	}

	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "envshadow - environmental sensor agent for AWS IoT")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: envshadow [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  run            Start the agent")
	fmt.Fprintln(w, "  history [-n N] Print recent journal entries (default 20)")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Send SIGUSR1 to a running agent to take and publish a reading immediately.")

	return nil
}
