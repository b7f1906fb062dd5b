package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/context-graph/internal/model"
)

var explainCmd = &cobra.Command{
	Use:   "explain <company-id> <domain.field>",
	Short: "Show why a field has its current value",
	Long:  "Prints a field's current value and its provenance chain, most recent first. The starred entry is the one that owns the value.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		companyID, path := args[0], args[1]
		f, err := env.Engine.Field(ctx, companyID, path)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if f == nil {
			fmt.Fprintf(w, "%s %s: not set\n", companyID, path)
			return nil
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s = %s (owner %s)\n", companyID, path, value, f.Source())
		for _, line := range model.Explain(f) {
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
}
