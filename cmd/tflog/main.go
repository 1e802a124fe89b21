package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tflog",
		Short: "Classify, filter and browse Terraform logs",
		Long: `tflog normalizes Terraform JSON logs (TF_LOG=json) line by line, classifying
each entry by level, operation and component and pulling out embedded HTTP bodies.

Run "tflog parse" for a one-off look at local files, "tflog serve" for the web
viewer, and "tflog ingest" to load files into the viewer's database.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newParseCmd(), newIngestCmd())
	return root
}

func setupLogging(debug bool) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
