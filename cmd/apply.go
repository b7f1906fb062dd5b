package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/context-graph/internal/apply"
	"github.com/sells-group/context-graph/internal/model"
)

var (
	applyFiles  []string
	applyDryRun bool
	applyJSON   bool
)

// batchFile is the on-disk form of one lab run's proposals.
type batchFile struct {
	CompanyID string          `json:"company_id" yaml:"company_id"`
	Writer    string          `json:"writer" yaml:"writer"`
	WriterTag string          `json:"writer_tag" yaml:"writer_tag"`
	RunID     string          `json:"run_id" yaml:"run_id"`
	Proposals []batchProposal `json:"proposals" yaml:"proposals"`
}

type batchProposal struct {
	Path       string  `json:"path" yaml:"path"`
	NewValue   any     `json:"new_value" yaml:"new_value"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Reason     string  `json:"reason" yaml:"reason"`
}

// loadBatchFile reads a JSON or YAML batch. YAML values are normalized to
// their JSON shapes so both formats compare equal.
func loadBatchFile(path string) (apply.ApplyRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return apply.ApplyRequest{}, eris.Wrapf(err, "read batch %s", path)
	}

	var bf batchFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &bf)
	default:
		err = json.Unmarshal(data, &bf)
	}
	if err != nil {
		return apply.ApplyRequest{}, eris.Wrapf(err, "parse batch %s", path)
	}
	if bf.CompanyID == "" {
		return apply.ApplyRequest{}, eris.Errorf("batch %s: company_id is required", path)
	}

	req := apply.ApplyRequest{
		CompanyID: bf.CompanyID,
		Writer:    model.ParseSourceTag(bf.Writer),
		WriterTag: bf.WriterTag,
		RunID:     bf.RunID,
		Proposals: make([]model.RefinementProposal, 0, len(bf.Proposals)),
	}
	for i, p := range bf.Proposals {
		v, err := model.Normalize(p.NewValue)
		if err != nil {
			return apply.ApplyRequest{}, eris.Wrapf(err, "batch %s: proposal %d", path, i)
		}
		req.Proposals = append(req.Proposals, model.RefinementProposal{
			Path:       p.Path,
			NewValue:   v,
			Confidence: p.Confidence,
			Reason:     p.Reason,
		})
	}
	return req, nil
}

// runBatches applies every request concurrently. Batches for the same
// company serialize inside the engine. Results keep the input order; a
// failed batch is logged and counted but does not stop the others.
func runBatches(ctx context.Context, engine *apply.Engine, reqs []apply.ApplyRequest, concurrency int) ([]*model.ApplyResult, int, error) {
	results := make([]*model.ApplyResult, len(reqs))
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for i, req := range reqs {
		g.Go(func() error {
			res, err := engine.ApplyBatch(gctx, req)
			results[i] = res
			if err != nil {
				failed.Add(1)
				zap.L().Error("apply: batch failed",
					zap.String("company_id", req.CompanyID),
					zap.String("writer", string(req.Writer)),
					zap.Error(err),
				)
			}
			return nil // don't abort other batches on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		return results, int(failed.Load()), eris.Wrap(err, "apply batches")
	}
	return results, int(failed.Load()), nil
}

func printResults(w io.Writer, results []*model.ApplyResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, res := range results {
		if res == nil {
			continue
		}
		fmt.Fprintln(w, apply.Summary(res))
		for _, o := range res.Outcomes {
			line := fmt.Sprintf("  %-24s %s", o.Status, o.Path)
			if o.Error != "" {
				line += " error=" + o.Error
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply refinement proposal batches to context graphs",
	Long:  "Reads one or more proposal batch files (JSON or YAML) and applies them concurrently. Human-set values are never overwritten.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("apply"); err != nil {
			return err
		}

		reqs := make([]apply.ApplyRequest, 0, len(applyFiles))
		for _, path := range applyFiles {
			req, err := loadBatchFile(path)
			if err != nil {
				return err
			}
			req.DryRun = applyDryRun
			reqs = append(reqs, req)
		}

		env, err := initEngine(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		results, failed, err := runBatches(ctx, env.Engine, reqs, cfg.Apply.MaxConcurrentRuns)
		if err != nil {
			return err
		}
		if err := printResults(cmd.OutOrStdout(), results, applyJSON); err != nil {
			return eris.Wrap(err, "print results")
		}

		zap.L().Info("apply complete",
			zap.Int("batches", len(reqs)),
			zap.Int("failed", failed),
		)
		if failed > 0 {
			return eris.Errorf("%d of %d batches failed", failed, len(reqs))
		}
		return nil
	},
}

func init() {
	applyCmd.Flags().StringSliceVarP(&applyFiles, "file", "f", nil, "proposal batch file (repeatable, required)")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "decide outcomes without saving")
	applyCmd.Flags().BoolVar(&applyJSON, "json", false, "print results as JSON")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}
