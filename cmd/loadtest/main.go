package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/af-corp/oss-relay/internal/loadtest"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure latency and throughput of a running relay gateway",
	Long: `Measure latency and throughput of a running relay gateway.

Examples:
  loadtest latency --requests 20
  loadtest concurrent --concurrent 8 --per-worker 5
  loadtest throughput --duration 30s
  loadtest all --url http://gateway:8080`,
	SilenceUsage: true,
}

var latencyCmd = &cobra.Command{
	Use:   "latency",
	Short: "Send sequential requests and report latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner(cmd)
		if err != nil {
			return err
		}
		return runLatency(cmd, runner)
	},
}

var concurrentCmd = &cobra.Command{
	Use:   "concurrent",
	Short: "Run parallel workers and report request rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner(cmd)
		if err != nil {
			return err
		}
		return runConcurrent(cmd, runner)
	},
}

var throughputCmd = &cobra.Command{
	Use:   "throughput",
	Short: "Send requests for a fixed duration and report tokens per second",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner(cmd)
		if err != nil {
			return err
		}
		return runThroughput(cmd, runner)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run the latency, concurrent and throughput tests in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := newRunner(cmd)
		if err != nil {
			return err
		}
		if err := runLatency(cmd, runner); err != nil {
			return err
		}
		if err := runConcurrent(cmd, runner); err != nil {
			return err
		}
		return runThroughput(cmd, runner)
	},
}

func init() {
	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "gateway base URL")
	rootCmd.PersistentFlags().Duration("timeout", 300*time.Second, "per-request timeout")
	rootCmd.PersistentFlags().Int("requests", 10, "number of requests for the latency test")
	rootCmd.PersistentFlags().Int("concurrent", 5, "number of concurrent workers")
	rootCmd.PersistentFlags().Int("per-worker", 3, "requests per concurrent worker")
	rootCmd.PersistentFlags().Duration("duration", 60*time.Second, "duration of the throughput test")

	rootCmd.AddCommand(latencyCmd, concurrentCmd, throughputCmd, allCmd)
}

func newRunner(cmd *cobra.Command) (*loadtest.Runner, error) {
	url, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if url == "" {
		return nil, fmt.Errorf("--url is required")
	}
	runner := loadtest.NewRunner(url, timeout)
	fmt.Fprintf(cmd.OutOrStdout(), "Load testing %s (run %s) at %s\n", url, runner.RunID, time.Now().Format(time.DateTime))
	return runner, nil
}

func runLatency(cmd *cobra.Command, runner *loadtest.Runner) error {
	n, _ := cmd.Flags().GetInt("requests")
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Running latency test with %d sequential requests...\n", n)

	rep := runner.Latency(cmd.Context(), n, func(i int, res loadtest.Result) {
		if res.Success {
			fmt.Fprintf(out, "  request %d: %.2fs, %.1f tokens/s\n", i, res.Latency.Seconds(), res.TokensPerSecond())
		} else {
			fmt.Fprintf(out, "  request %d: failed: %s\n", i, res.Err)
		}
	})
	rep.Write(out)
	return nil
}

func runConcurrent(cmd *cobra.Command, runner *loadtest.Runner) error {
	workers, _ := cmd.Flags().GetInt("concurrent")
	perWorker, _ := cmd.Flags().GetInt("per-worker")
	fmt.Fprintf(cmd.OutOrStdout(), "Running concurrent test with %d workers, %d requests each...\n", workers, perWorker)

	rep, err := runner.Concurrent(cmd.Context(), workers, perWorker)
	if err != nil {
		return err
	}
	rep.Write(cmd.OutOrStdout())
	return nil
}

func runThroughput(cmd *cobra.Command, runner *loadtest.Runner) error {
	d, _ := cmd.Flags().GetDuration("duration")
	fmt.Fprintf(cmd.OutOrStdout(), "Running throughput test for %s...\n", d)

	runner.Throughput(cmd.Context(), d).Write(cmd.OutOrStdout())
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
