package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/imagehost/service/internal/upload"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.Context())
			defer a.Close()

			records, err := a.svc.History(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list uploads: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No uploads found")
				return nil
			}

			fmt.Fprintf(out, "%-20s  %10s  %-30s  %s\n", "UPLOADED", "SIZE", "FILENAME", "URL")
			for _, rec := range records {
				name := rec.OriginalFilename
				if len(name) > 30 {
					name = name[:27] + "..."
				}
				fmt.Fprintf(out, "%-20s  %10s  %-30s  %s\n",
					time.Unix(rec.UploadTime, 0).Format("2006-01-02 15:04:05"),
					formatBytes(rec.FileSize),
					name,
					rec.URL,
				)
			}
			fmt.Fprintf(out, "\nTotal: %d uploads\n", len(records))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", upload.DefaultHistoryLimit, "Maximum number of uploads to show")
	cmd.AddCommand(historyClearCmd())
	return cmd
}

func historyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget every recorded upload",
		Long:  "Clears the local upload history. Objects already in the bucket are not deleted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.Context())
			defer a.Close()

			if err := a.svc.ClearHistory(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear history: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Upload history cleared")
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
