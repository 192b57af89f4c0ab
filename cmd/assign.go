package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/assign"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

var assignCmd = &cobra.Command{
	Use:   "assign <scope>",
	Short: "Assign unidentified faces of a scope to known identities",
	Long: `Match every unidentified embedded detection of a scope against the
identified ones using K nearest neighbours. Detections whose confidence
reaches the threshold are linked; the rest are reported as no match.

Options default to ASSIGN_* environment variables.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssign,
}

func init() {
	rootCmd.AddCommand(assignCmd)

	assignCmd.Flags().String("model", "", "Model variant (defaults to EMBEDDING_MODEL)")
	assignCmd.Flags().Int("k", 0, "Number of nearest neighbours")
	assignCmd.Flags().Float64("threshold", 0, "Minimum confidence for a match")
	assignCmd.Flags().Bool("no-voting", false, "Use the single nearest neighbour instead of a majority vote")
	assignCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func runAssign(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := assign.Options{
		K:                   cfg.Assign.K,
		SimilarityThreshold: cfg.Assign.SimilarityThreshold,
		UseVoting:           cfg.Assign.UseVoting,
	}
	if cmd.Flags().Changed("k") {
		opts.K = mustGetInt(cmd, "k")
	}
	if cmd.Flags().Changed("threshold") {
		opts.SimilarityThreshold = mustGetFloat64(cmd, "threshold")
	}
	if mustGetBool(cmd, "no-voting") {
		opts.UseVoting = false
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.AssignScope(cmd.Context(), args[0], faceid.Variant(mustGetString(cmd, "model")), opts)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(report)
	}

	fmt.Printf("Scope %s: %d assigned, %d no match, %d errors\n", args[0], report.Assigned, report.NoMatch, report.Errors)
	for _, item := range report.Items {
		switch item.Outcome {
		case assign.OutcomeAssigned:
			fmt.Printf("  %s -> %s (%.3f)\n", item.DetectionID, item.Result.IdentityID, item.Result.Confidence)
		case assign.OutcomeError:
			fmt.Fprintf(os.Stderr, "  %s: %s\n", item.DetectionID, item.Error)
		}
	}
	return nil
}
