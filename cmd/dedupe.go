package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/context-graph/internal/model"
	"github.com/sells-group/context-graph/internal/resolve"
)

var (
	dedupeFile      string
	dedupeExisting  string
	dedupePolicy    string
	dedupeThreshold float64
)

func readProfiles(path string) ([]model.CompetitorProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read profiles %s", path)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrapf(err, "parse profiles %s", path)
	}
	return model.DecodeProfiles(raw)
}

// dedupeResolver builds a resolver from config, with flag overrides.
func dedupeResolver(policy string, threshold float64) (*resolve.Resolver, error) {
	if policy == "" {
		policy = cfg.Resolve.Policy
	}
	p, err := resolve.ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = cfg.Resolve.Threshold
	}
	return resolve.NewResolver(resolve.WithThreshold(threshold), resolve.WithPolicy(p)), nil
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Collapse duplicate competitor profiles",
	Long:  "Reads a JSON array of competitor profiles and prints the deduplicated list with its merge log. With --existing, merges the file into an existing list instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := dedupeResolver(dedupePolicy, dedupeThreshold)
		if err != nil {
			return err
		}
		incoming, err := readProfiles(dedupeFile)
		if err != nil {
			return err
		}

		var out any
		if dedupeExisting != "" {
			existing, err := readProfiles(dedupeExisting)
			if err != nil {
				return err
			}
			stats := r.MergeIntoExisting(existing, incoming)
			zap.L().Info("merge complete",
				zap.Int("added", stats.Added),
				zap.Int("merged", stats.Merged),
				zap.Int("fields_changed", stats.FieldsChanged),
				zap.Int("invalid", stats.Invalid),
			)
			out = stats
		} else {
			res := r.Dedupe(incoming)
			zap.L().Info("dedupe complete",
				zap.Int("input", len(incoming)),
				zap.Int("output", len(res.Profiles)),
				zap.Int("invalid", res.Invalid),
				zap.String("policy", string(r.Policy())),
			)
			out = res
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	dedupeCmd.Flags().StringVarP(&dedupeFile, "file", "f", "", "JSON array of competitor profiles (required)")
	dedupeCmd.Flags().StringVar(&dedupeExisting, "existing", "", "merge into this existing profile list")
	dedupeCmd.Flags().StringVar(&dedupePolicy, "policy", "", "clustering policy: greedy or transitive (default from config)")
	dedupeCmd.Flags().Float64Var(&dedupeThreshold, "threshold", 0, "similarity threshold (default from config)")
	_ = dedupeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(dedupeCmd)
}
