package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/herbid/internal/bench"
)

var benchFlags struct {
	url       string
	images    int
	workers   int
	size      int
	timeout   time.Duration
	outputDir string
	verbose   bool
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Submit synthetic images to a running server and verify the rankings",
	RunE:  runBench,
}

func init() {
	f := benchCmd.Flags()
	f.StringVar(&benchFlags.url, "url", "http://localhost:8080", "Base URL of the herbid server")
	f.IntVar(&benchFlags.images, "images", 100, "Number of images to submit")
	f.IntVar(&benchFlags.workers, "workers", 8, "Concurrent submitters")
	f.IntVar(&benchFlags.size, "size", bench.DefaultImageSize, "Edge length of generated images")
	f.DurationVar(&benchFlags.timeout, "timeout", 30*time.Second, "Per-request timeout")
	f.StringVarP(&benchFlags.outputDir, "output", "o", "", "Save generated images to this directory")
	f.BoolVarP(&benchFlags.verbose, "verbose", "v", false, "Log every failure and violation")
}

func runBench(cmd *cobra.Command, _ []string) error {
	stats, err := bench.Run(cmd.Context(), &bench.Config{
		BaseURL:   benchFlags.url,
		Images:    benchFlags.images,
		Workers:   benchFlags.workers,
		Size:      benchFlags.size,
		Timeout:   benchFlags.timeout,
		OutputDir: benchFlags.outputDir,
		Verbose:   benchFlags.verbose,
	})
	if stats != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Herbs:         %d\n", stats.Herbs)
		fmt.Fprintf(out, "Submitted:     %d\n", stats.Submitted)
		fmt.Fprintf(out, "Successful:    %d\n", stats.Successful)
		fmt.Fprintf(out, "Backpressured: %d\n", stats.Backpressured)
		fmt.Fprintf(out, "Failed:        %d\n", stats.Failed)
		fmt.Fprintf(out, "Violations:    %d\n", stats.Violations)
		fmt.Fprintf(out, "Mean server:   %.2fms\n", stats.MeanServerMS)
		fmt.Fprintf(out, "Duration:      %s\n", stats.Duration.Round(time.Millisecond))
	}
	return err
}
