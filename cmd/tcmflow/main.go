// tcmflow generates Traditional Chinese Medicine content from source
// documents through a chain of LLM agents.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var flags rootFlags

	root := &cobra.Command{
		Use:     "tcmflow",
		Short:   "TCM content pipeline: analyze sources, plan, write, and validate content",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "tcmflow.yaml", "path to config file")
	root.PersistentFlags().StringVar(&flags.inputDir, "input-dir", "", "override the source document directory")
	root.PersistentFlags().StringVar(&flags.outputDir, "output-dir", "", "override the generated content directory")

	root.AddCommand(
		newRunCmd(&flags),
		newDailyCmd(&flags),
		newCacheCmd(&flags),
		newMetricsCmd(&flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
