package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/herbid/internal/domain/augment"
	"github.com/okian/herbid/internal/domain/preprocess"
)

var augmentFlags struct {
	outDir string
}

var augmentCmd = &cobra.Command{
	Use:   "augment <image>",
	Short: "Write the four inspection variants of an image as PNG files",
	Args:  cobra.ExactArgs(1),
	RunE:  runAugment,
}

func init() {
	augmentCmd.Flags().StringVarP(&augmentFlags.outDir, "output", "o", ".", "Directory for the variant files")
}

func runAugment(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := preprocess.Decode(f)
	if err != nil {
		return err
	}
	set, err := augment.New().Generate(cmd.Context(), img)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(augmentFlags.outDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	paths, err := set.Save(augmentFlags.outDir)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	return nil
}
