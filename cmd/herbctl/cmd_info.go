package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Load the configured model and describe it",
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := startService(ctx)
	if err != nil {
		return err
	}
	defer svc.Stop()

	info, err := svc.ModelInfo(ctx)
	if err != nil {
		return fmt.Errorf("model info: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backend:   %s\n", info.Backend)
	fmt.Fprintf(out, "Input:     %v\n", info.InputShape)
	fmt.Fprintf(out, "Output:    %v\n", info.OutputShape)
	fmt.Fprintf(out, "Params:    %d\n", info.TrainableParams)
	fmt.Fprintf(out, "Layers:    %d\n", info.Layers)
	for _, name := range info.LayerNames {
		fmt.Fprintf(out, "  %s\n", name)
	}
	fmt.Fprintf(out, "Herbs:     %d\n", svc.Catalog().Len())
	return nil
}
