package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/jarvis/internal/importer"
)

var (
	importBatchSize int
	importSingle    bool
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import chat history into episodic memory",
	Long: `Import reads a JSON array of chat records, converts each text
message into an episodic memory and runs a short-term maintenance pass
afterwards. By default records are analyzed in batches; --single scores
each record on its own, which is slower but more precise.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runImport(args[0], cmd.Flags().Changed("batch-size"))
	},
}

func init() {
	RootCmd.AddCommand(importCmd)
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", importer.DefaultBatchSize, "Records per analysis chunk")
	importCmd.Flags().BoolVar(&importSingle, "single", false, "Analyze each record individually")
}

func runImport(path string, sizeSet bool) {
	app, err := newApp(os.Stdout, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	if v := app.guard.CheckImportPath(path); v != nil {
		fmt.Fprintf(os.Stderr, "jarvis: import blocked: %s\n", v.Message)
		os.Exit(1)
	}

	size := importBatchSize
	if !sizeSet && app.cfg.Memory.ImportBatchSize > 0 {
		size = app.cfg.Memory.ImportBatchSize
	}

	report, err := app.imp.ImportFile(context.Background(), path, !importSingle, size)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(report.Summary())
}
