package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/pipeline"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <manifest.json>",
	Short: "Store face crops produced by the detector",
	Long: `Store the detections listed in a detector manifest:

  {
    "scope": "class-3a",
    "detections": [
      {"id": "f-0001", "image_path": "crops/0001.jpg", "confidence": 0.99},
      {"image_path": "crops/0002.jpg", "name": "Anna Novakova"}
    ]
  }

Relative image paths are resolved against the manifest's directory. A name
links the crop to the identity with that name, creating it if needed.
With --embed, the scope is embedded right after ingestion.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Bool("embed", false, "Embed the scope after ingesting")
	ingestCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func runIngest(cmd *cobra.Command, args []string) error {
	manifest, err := pipeline.LoadManifest(args[0])
	if err != nil {
		return err
	}

	a, err := openAppFromCmd(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	asJSON := mustGetBool(cmd, "json")
	report, err := a.pipeline.Ingest(cmd.Context(), manifest)
	if err != nil {
		return err
	}

	var embedReport *pipeline.EmbedReport
	if mustGetBool(cmd, "embed") {
		bar := newProgressBar(report.Created, "Embedding "+manifest.Scope, asJSON)
		embedReport, err = a.pipeline.EmbedScope(cmd.Context(), manifest.Scope, "", pipeline.EmbedOptions{
			Progress: func(done, total int) { advance(bar) },
		})
		if err != nil {
			return err
		}
	}

	if asJSON {
		return printJSON(struct {
			Ingest *pipeline.IngestReport `json:"ingest"`
			Embed  *pipeline.EmbedReport  `json:"embed,omitempty"`
		}{report, embedReport})
	}

	fmt.Printf("Scope %s: %d detections stored, %d labeled, %d new identities\n",
		report.Scope, report.Created, report.Labeled, report.IdentitiesCreated)
	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", e.DetectionID, e.Error)
	}
	if embedReport != nil {
		fmt.Printf("Embedded %d, failed %d (%s)\n", embedReport.Succeeded, embedReport.Failed, embedReport.Variant)
	}
	return nil
}
