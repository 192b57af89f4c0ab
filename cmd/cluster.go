package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/cluster"
	"github.com/kozaktomas/rollcall/internal/faceid"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster <scope>",
	Short: "Cluster the embedded faces of a scope into identities",
	Long: `Cluster the embedded detections of a scope. Clusters whose identified
members mostly share an identity join it; other clusters become new
"Student N" identities. Unidentified members are assigned to their cluster's
identity. Outliers stay unidentified.

Options default to CLUSTER_* environment variables.`,
	Args: cobra.ExactArgs(1),
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)

	clusterCmd.Flags().String("model", "", "Model variant (defaults to EMBEDDING_MODEL)")
	clusterCmd.Flags().Int("max-clusters", 0, "Upper bound on the number of groups")
	clusterCmd.Flags().Float64("threshold", 0, "Minimum cosine similarity for two groups to merge")
	clusterCmd.Flags().Int("min-size", 0, "Smallest group reported as a cluster")
	clusterCmd.Flags().Bool("exclude-labeled", false, "Cluster only unidentified detections")
	clusterCmd.Flags().Bool("json", false, "Print the report as JSON")
}

func runCluster(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := cluster.Options{
		MaxClusters:         cfg.Cluster.MaxClusters,
		SimilarityThreshold: cfg.Cluster.SimilarityThreshold,
		MinClusterSize:      cfg.Cluster.MinClusterSize,
	}
	if cmd.Flags().Changed("max-clusters") {
		opts.MaxClusters = mustGetInt(cmd, "max-clusters")
	}
	if cmd.Flags().Changed("threshold") {
		opts.SimilarityThreshold = mustGetFloat64(cmd, "threshold")
	}
	if cmd.Flags().Changed("min-size") {
		opts.MinClusterSize = mustGetInt(cmd, "min-size")
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.ClusterScope(cmd.Context(), args[0],
		faceid.Variant(mustGetString(cmd, "model")), opts, !mustGetBool(cmd, "exclude-labeled"))
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return printJSON(report)
	}

	fmt.Printf("Scope %s (%s): %d detections, %d clusters, %d outliers\n",
		report.Scope, report.Variant, report.Detections, report.Clusters, report.Outliers)
	fmt.Printf("Identities: %d created, %d reused; %d detections assigned\n\n",
		report.IdentitiesCreated, report.IdentitiesReused, report.Assigned)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLUSTER\tSIZE\tCOHESION\tIDENTITY\tNEW")
	for _, s := range report.Summaries {
		created := ""
		if s.Created {
			created = "yes"
		}
		fmt.Fprintf(tw, "%d\t%d\t%.3f\t%s\t%s\n", s.Label, s.Size, s.Cohesion, s.DisplayName, created)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", e.DetectionID, e.Error)
	}
	return nil
}
