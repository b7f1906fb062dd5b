package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/store"
)

var (
	graphName    string
	graphDomain  string
	historyLimit int
	importFile   string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Create and inspect company context graphs",
}

var graphCreateCmd = &cobra.Command{
	Use:   "create <company-id>",
	Short: "Seed an empty context graph for a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		g, err := env.Engine.CreateGraph(ctx, args[0], graphName, graphDomain)
		if err != nil {
			return err
		}
		zap.L().Info("graph created",
			zap.String("company_id", g.CompanyID),
			zap.Int("domains", len(g.Domains)),
		)
		return nil
	},
}

var graphShowCmd = &cobra.Command{
	Use:   "show <company-id>",
	Short: "Print a company's context graph as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		g, err := env.Engine.Graph(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(g)
	},
}

var graphHistoryCmd = &cobra.Command{
	Use:   "history <company-id>",
	Short: "List recent saves of a company's graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEngine(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		revs, err := env.Engine.History(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range revs {
			fmt.Fprintf(w, "v%-5d %s %s\n", r.Version, r.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"), r.UpdatedBy)
		}
		return nil
	},
}

// readGraphs parses a JSON array of graphs for import.
func readGraphs(path string) ([]*model.ContextGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read graphs %s", path)
	}
	var graphs []*model.ContextGraph
	if err := json.Unmarshal(data, &graphs); err != nil {
		return nil, eris.Wrapf(err, "parse graphs %s", path)
	}
	return graphs, nil
}

var graphImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-create graphs from a JSON file",
	Long:  "Creates every graph in a JSON array. Postgres uses the COPY protocol; other stores create one graph at a time.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		graphs, err := readGraphs(importFile)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := store.CreateAll(ctx, st, graphs)
		if err != nil {
			return eris.Wrap(err, "import graphs")
		}
		zap.L().Info("import complete",
			zap.Int64("created", n),
			zap.String("file", importFile),
		)
		return nil
	},
}

func init() {
	graphCreateCmd.Flags().StringVar(&graphName, "name", "", "company name")
	graphCreateCmd.Flags().StringVar(&graphDomain, "domain", "", "company web domain")
	graphHistoryCmd.Flags().IntVar(&historyLimit, "limit", store.DefaultHistoryLimit, "maximum revisions to list")
	graphImportCmd.Flags().StringVar(&importFile, "file", "", "JSON array of graphs (required)")
	_ = graphImportCmd.MarkFlagRequired("file")

	graphCmd.AddCommand(graphCreateCmd, graphShowCmd, graphHistoryCmd, graphImportCmd)
	rootCmd.AddCommand(graphCmd)
}
