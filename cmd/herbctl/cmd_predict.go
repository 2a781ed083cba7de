package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/herbid/internal/domain/preprocess"
	"github.com/okian/herbid/internal/domain/ranking"
	"github.com/okian/herbid/internal/domain/types"
)

var predictFlags struct {
	top int
}

var predictCmd = &cobra.Command{
	Use:   "predict <image>",
	Short: "Classify one image and print the ranked candidates as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().IntVar(&predictFlags.top, "top", 0, "Only print the first N candidates (0 prints all)")
}

type predictOutput struct {
	RecordID         string        `json:"record_id,omitempty"`
	Format           string        `json:"format"`
	Accuracy         float64       `json:"accuracy"`
	ProcessingTimeMS float64       `json:"processing_time_ms"`
	MemoryBytes      int64         `json:"memory_bytes"`
	Substituted      int           `json:"substituted"`
	Predictions      []types.Entry `json:"predictions"`
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, format, err := preprocess.Decode(f)
	if err != nil {
		return err
	}

	svc, err := startService(ctx)
	if err != nil {
		return err
	}
	defer svc.Stop()

	m, rec, err := svc.Predict(ctx, img, format)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	out := predictOutput{
		Format:           format,
		Accuracy:         m.Accuracy,
		ProcessingTimeMS: float64(m.ProcessingTime.Microseconds()) / 1000,
		MemoryBytes:      m.MemoryBytes,
		Substituted:      m.Substituted,
		Predictions:      ranking.Entries(m.Predictions),
	}
	if rec != nil {
		out.RecordID = rec.ID
	}
	if predictFlags.top > 0 && predictFlags.top < len(out.Predictions) {
		out.Predictions = out.Predictions[:predictFlags.top]
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
