package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Compute one embedding (child process entry point)",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		code := worker.Run(cmd.Context(),
			mustGetString(cmd, "request"),
			mustGetString(cmd, "result"),
			worker.NewNativeRunner(mustGetString(cmd, "models-dir")))
		os.Exit(code)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().String("request", "", "Request file written by the parent")
	workerCmd.Flags().String("result", "", "Result file to write")
	workerCmd.Flags().String("models-dir", "models", "Directory with the dlib model files")
	_ = workerCmd.MarkFlagRequired("request")
	_ = workerCmd.MarkFlagRequired("result")
}
