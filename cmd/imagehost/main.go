//	@title			Imagehost Proxy API
//	@version		1.0
//	@description	Local upload proxy. Deduplicates files by content hash and stores new ones in S3-compatible object storage.
//
//	@host		127.0.0.1:38123
//	@BasePath	/

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"

	// Global flags
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "imagehost",
		Short: "Upload images to S3-compatible storage without re-uploading duplicates",
		Long: `imagehost uploads files to an S3-compatible bucket (Cloudflare R2, MinIO)
and returns their public URLs. Content that was uploaded before is answered
from a local history instead of being sent again.

The same pipeline is available over HTTP on 127.0.0.1 via "imagehost serve".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "Environment file to load before reading the environment")

	rootCmd.AddCommand(uploadCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(historyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
