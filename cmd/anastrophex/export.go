package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/anastrophex/internal/memory"
)

func (c *cli) newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write persisted outcomes and alerts to stdout as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			store, err := memory.New(memory.Config{DataDir: cfg.DataDir})
			if err != nil {
				return fmt.Errorf("opening outcome store: %w", err)
			}
			defer func() { _ = store.Close() }()

			data, err := store.Export(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(data)
		},
	}
}
