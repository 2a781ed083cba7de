package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/okian/herbid/internal/config"
	"github.com/okian/herbid/internal/domain/catalog"
)

var herbsCmd = &cobra.Command{
	Use:   "herbs [query]",
	Short: "List catalog herbs, optionally filtered by a search query",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHerbs,
}

func runHerbs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cat := catalog.MustDefault()
	if cfg.CatalogPath != "" {
		if cat, err = catalog.LoadFile(cfg.CatalogPath); err != nil {
			return err
		}
	}

	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	entries := cat.Search(query)

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "No herbs match %q\n", query)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%-3s %s\n", e.ID, e.Name)
		if len(e.Functions) > 0 {
			fmt.Fprintf(out, "    %s\n", strings.Join(e.Functions, ", "))
		}
	}
	return nil
}
