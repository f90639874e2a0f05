package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func uploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files and print their public URLs",
		Long: `Uploads each file through the dedup pipeline and prints one JSON result per
line: {"success":..,"url":..,"error":..,"from_cache":..}.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.Context())
			defer a.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			failures := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					a.log.Error().Err(err).Str("path", path).Msg("cannot read file")
					failures++
					continue
				}

				res := a.svc.Upload(cmd.Context(), data, filepath.Base(path))
				if !res.Success {
					failures++
				}
				if err := enc.Encode(res); err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
			}

			if failures > 0 {
				return fmt.Errorf("%d of %d uploads failed", failures, len(args))
			}
			return nil
		},
	}
	return cmd
}
