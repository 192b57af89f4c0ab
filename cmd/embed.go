package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/faceid"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

var embedCmd = &cobra.Command{
	Use:   "embed [image...]",
	Short: "Compute face embeddings",
	Long: `Compute face embeddings for cropped face images, one isolated worker
process per image.

With --scope, embed every detection of a scope that has no embedding yet and
store the results (--regenerate also replaces embeddings of other variants).

Examples:
  # One image, default model
  rollcall embed crops/0001.jpg --json

  # Many images with another model
  rollcall embed crops/*.jpg --model arcface

  # A whole scope from the database
  rollcall embed --scope class-3a`,
	RunE: runEmbed,
}

func init() {
	rootCmd.AddCommand(embedCmd)

	embedCmd.Flags().String("model", "", "Model variant (defaults to EMBEDDING_MODEL)")
	embedCmd.Flags().Bool("json", false, "Print results as JSON")
	embedCmd.Flags().String("scope", "", "Embed the stored detections of a scope instead of files")
	embedCmd.Flags().Bool("regenerate", false, "With --scope, replace embeddings of other variants")
}

// embedOutput is one image result.
type embedOutput struct {
	ImagePath string         `json:"image_path"`
	Variant   faceid.Variant `json:"model_variant,omitempty"`
	Dimension int            `json:"dimension,omitempty"`
	Embedding []float32      `json:"embedding,omitempty"`
	Error     *errorOutput   `json:"error,omitempty"`
}

func runEmbed(cmd *cobra.Command, args []string) error {
	variant := faceid.Variant(mustGetString(cmd, "model"))
	asJSON := mustGetBool(cmd, "json")
	scope := mustGetString(cmd, "scope")

	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if scope != "" {
		if len(args) > 0 {
			return fmt.Errorf("--scope does not take image arguments")
		}
		return runEmbedScope(cmd, cfg, log, scope, variant, asJSON)
	}
	if len(args) == 0 {
		return fmt.Errorf("at least one image is required")
	}

	svc, err := newEmbedder(cfg, log)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		emb, err := svc.Generate(cmd.Context(), args[0], variant)
		if err != nil {
			if asJSON {
				_ = printJSON(embedOutput{ImagePath: args[0], Error: toErrorOutput(err)})
			}
			return err
		}
		if asJSON {
			return printJSON(embedOutput{ImagePath: args[0], Variant: emb.Variant, Dimension: emb.Dimension(), Embedding: emb.Vector})
		}
		fmt.Printf("%s: %s, %d dimensions\n", args[0], emb.Variant, emb.Dimension())
		return nil
	}

	bar := newProgressBar(len(args), "Computing embeddings", asJSON)
	outputs := make([]embedOutput, len(args))
	res, err := svc.GenerateBatch(cmd.Context(), args, variant, func(i int, emb *faceid.FaceEmbedding, genErr error) {
		outputs[i].ImagePath = args[i]
		if genErr != nil {
			outputs[i].Error = toErrorOutput(genErr)
		} else {
			outputs[i].Variant, outputs[i].Dimension, outputs[i].Embedding = emb.Variant, emb.Dimension(), emb.Vector
		}
		advance(bar)
	})
	if err != nil {
		return err
	}

	if asJSON {
		if err := printJSON(outputs); err != nil {
			return err
		}
	} else {
		for _, out := range outputs {
			if out.Error != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", out.ImagePath, out.Error.Error)
			}
		}
		fmt.Printf("Embedded %d of %d images\n", res.Succeeded, len(args))
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d images failed", res.Failed, len(args))
	}
	return nil
}

func runEmbedScope(cmd *cobra.Command, cfg *config.Config, log *logrus.Logger, scope string, variant faceid.Variant, asJSON bool) error {
	a, err := openApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var bar *progressbar.ProgressBar
	report, err := a.pipeline.EmbedScope(cmd.Context(), scope, variant, pipeline.EmbedOptions{
		Regenerate: mustGetBool(cmd, "regenerate"),
		Progress: func(done, total int) {
			if done == 1 {
				bar = newProgressBar(total, "Embedding "+scope, asJSON)
			}
			advance(bar)
		},
	})
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(report)
	}
	fmt.Printf("Scope %s: %d embedded, %d failed (%s)\n", report.Scope, report.Succeeded, report.Failed, report.Variant)
	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", e.DetectionID, e.Error)
	}
	return nil
}
