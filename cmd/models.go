package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/worker"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List supported model variants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		registry, err := cfg.Registry()
		if err != nil {
			return err
		}

		if mustGetBool(cmd, "json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(registry.Specs())
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VARIANT\tDIM\tRUNNER\tDEFAULT\tDESCRIPTION")
		for _, spec := range registry.Specs() {
			def := ""
			if spec.Name == registry.Default() {
				def = "*"
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", spec.Name, spec.Dimension, spec.Runner, def, spec.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if !worker.NativeAvailable {
			fmt.Println("\nnative variants need a binary built with -tags dlib")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().Bool("json", false, "Print as JSON")
}
