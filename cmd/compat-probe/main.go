package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"oai-compat/internal/openai"
	"oai-compat/internal/probe"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request HTTP timeout")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full report JSON to this file")
	baselineInPath := flag.String("baseline-in", "", "Load baseline report JSON and print a drift comparison")
	baselineOutPath := flag.String("baseline-out", "", "Write current report as future baseline JSON")
	strict := flag.Bool("strict", false, "Exit 1 if any probe failed (report outcome is informational by default)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: base URL argument is required")
		usage()
		os.Exit(1)
	}
	if flag.NArg() > 3 {
		fmt.Fprintln(os.Stderr, "error: too many arguments")
		usage()
		os.Exit(1)
	}

	target := probe.Target{
		BaseURL: flag.Arg(0),
		APIKey:  argOrEnv(1, "OPENAI_API_KEY"),
		Model:   argOrEnv(2, "OPENAI_MODEL"),
	}.Normalize()

	client := openai.NewClient(openai.Config{
		BaseURL: target.BaseURL,
		APIKey:  target.APIKey,
		Timeout: *timeout,
	})

	// whole-run budget covers three sequential probes
	ctx, cancel := context.WithTimeout(context.Background(), *timeout*4)
	defer cancel()

	report := probe.RunAllWithClient(ctx, client, target)

	var drift *probe.Drift
	if strings.TrimSpace(*baselineInPath) != "" {
		baseline, err := readReport(*baselineInPath)
		if err != nil {
			exitWith("failed to read baseline report: " + err.Error())
		}
		compared := probe.CompareWithBaseline(*report, baseline)
		drift = &compared
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(*report, drift)
	default:
		printText(*report)
		if drift != nil {
			printDrift(*drift)
		}
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeReport(*outputPath, *report); err != nil {
			exitWith("failed to write report: " + err.Error())
		}
	}
	if strings.TrimSpace(*baselineOutPath) != "" {
		if err := writeReport(*baselineOutPath, *report); err != nil {
			exitWith("failed to write baseline report: " + err.Error())
		}
	}

	if *strict && report.Failed > 0 {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: compat-probe [flags] <baseUrl> [apiKey] [model]")
	fmt.Fprintln(os.Stderr, "  baseUrl  required, e.g. https://api.example.com/v1")
	fmt.Fprintln(os.Stderr, "  apiKey   optional, falls back to OPENAI_API_KEY")
	fmt.Fprintln(os.Stderr, "  model    optional, falls back to OPENAI_MODEL, then "+probe.DefaultModel)
	flag.PrintDefaults()
}

// argOrEnv prefers the positional argument at index and falls back to the
// environment variable.
func argOrEnv(index int, key string) string {
	if flag.NArg() > index {
		return strings.TrimSpace(flag.Arg(index))
	}
	return strings.TrimSpace(os.Getenv(key))
}

func printText(report probe.Report) {
	fmt.Printf("Endpoint: %s\n", report.BaseURL)
	fmt.Printf("Model: %s\n", report.Model)
	fmt.Printf("Generated: %s\n\n", report.GeneratedAt)

	for _, result := range report.Results {
		fmt.Printf("[%s] %s - %s (%dms)\n", statusLabel(result), result.Probe, result.Summary, result.DurationMS)
		if result.Error != "" {
			fmt.Printf("  error: %s\n", result.Error)
		}
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
		if len(result.Metrics) > 0 {
			metricsJSON, _ := json.Marshal(result.Metrics)
			fmt.Printf("  metrics: %s\n", metricsJSON)
		}
		fmt.Println()
	}

	fmt.Printf("Totals: pass=%d fail=%d skip=%d\n", report.Passed, report.Failed, report.Skipped)
	fmt.Printf("Score: %d/100 (%s)\n", report.Score, probe.TierLabel(report.Tier))
}

func statusLabel(result probe.Result) string {
	switch {
	case result.Skipped:
		return "SKIP"
	case result.Success:
		return "PASS"
	default:
		return "FAIL"
	}
}

func printDrift(drift probe.Drift) {
	fmt.Printf("\nDrift vs baseline: [%s] %s\n", strings.ToUpper(drift.Level), drift.Summary)
	for _, finding := range drift.Findings {
		fmt.Printf("  - %s\n", finding)
	}
	if len(drift.Metrics) > 0 {
		metricsJSON, _ := json.Marshal(drift.Metrics)
		fmt.Printf("  metrics: %s\n", metricsJSON)
	}
}

func printJSON(report probe.Report, drift *probe.Drift) {
	var payload any = report
	if drift != nil {
		payload = map[string]any{"report": report, "drift": drift}
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		exitWith("failed to encode report JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func readReport(path string) (probe.Report, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return probe.Report{}, err
	}
	var report probe.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return probe.Report{}, err
	}
	return report, nil
}

func writeReport(path string, report probe.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	cleanPath := filepath.Clean(path)
	return os.WriteFile(cleanPath, data, 0o644)
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(1)
}
