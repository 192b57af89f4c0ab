package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage student identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list <scope>",
	Short: "List the identities of a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAppFromCmd(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		identities, err := a.store.ListIdentities(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if mustGetBool(cmd, "json") {
			return printJSON(identities)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tFACES")
		for _, ident := range identities {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", ident.ID, ident.DisplayName, ident.DetectionCount)
		}
		return tw.Flush()
	},
}

var identitiesRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Set the display name of an identity",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(strings.Join(args[1:], " "))
		if name == "" {
			return fmt.Errorf("name must not be empty")
		}

		a, err := openAppFromCmd(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if existing, err := a.store.GetIdentity(cmd.Context(), args[0]); err != nil {
			return err
		} else if dup, err := a.store.FindIdentityByName(cmd.Context(), existing.Scope, name); err != nil {
			return err
		} else if dup != nil && dup.ID != existing.ID {
			fmt.Fprintf(os.Stderr, "warning: %s already names identity %s in scope %s\n", name, dup.ID, dup.Scope)
		}

		if err := a.store.RenameIdentity(cmd.Context(), args[0], name); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %s\n", args[0], name)
		return nil
	},
}

var identitiesMergeCmd = &cobra.Command{
	Use:   "merge <survivor-id> <merged-id>",
	Short: "Move all faces of one identity to another and delete it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openAppFromCmd(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.MergeIdentities(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		survivor, err := a.store.GetIdentity(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Merged %s into %s (%s, %d faces)\n", args[1], survivor.ID, survivor.DisplayName, survivor.DetectionCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd, identitiesRenameCmd, identitiesMergeCmd)

	identitiesListCmd.Flags().Bool("json", false, "Print as JSON")
}
