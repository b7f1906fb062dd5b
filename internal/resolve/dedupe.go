package resolve

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/context-graph/internal/model"
)

// Policy selects how duplicate records are clustered.
type Policy string

const (
	// PolicyGreedy makes a single left-to-right pass. A later record joins
	// slot i when it duplicates any record already folded into that slot.
	// Records scanned before the slot grew are not revisited, so the output
	// depends on input order.
	PolicyGreedy Policy = "greedy"

	// PolicyTransitive clusters the transitive closure of the duplicate
	// relation (union-find), independent of input order.
	PolicyTransitive Policy = "transitive"
)

// ParsePolicy validates a policy name. Empty means PolicyGreedy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyGreedy:
		return PolicyGreedy, nil
	case PolicyTransitive:
		return PolicyTransitive, nil
	default:
		return "", eris.Errorf("resolve: unknown dedup policy %q", s)
	}
}

// Resolver deduplicates and merges competitor profiles.
type Resolver struct {
	threshold float64
	policy    Policy
	now       func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithThreshold sets the name-similarity threshold. Non-positive values are
// ignored.
func WithThreshold(t float64) Option {
	return func(r *Resolver) {
		if t > 0 {
			r.threshold = t
		}
	}
}

// WithPolicy sets the clustering policy.
func WithPolicy(p Policy) Option {
	return func(r *Resolver) {
		if p != "" {
			r.policy = p
		}
	}
}

// WithClock overrides the clock used for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver with the default threshold and greedy policy.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		threshold: DefaultThreshold,
		policy:    PolicyGreedy,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Threshold returns the configured similarity threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Policy returns the configured clustering policy.
func (r *Resolver) Policy() Policy { return r.policy }

// DedupeResult is the output of Resolver.Dedupe.
type DedupeResult struct {
	Profiles []model.CompetitorProfile `json:"profiles"`
	Log      []model.MergeOperation    `json:"log"`
	Invalid  int                       `json:"invalid"`
}

// MergeStats is the output of Resolver.MergeIntoExisting.
type MergeStats struct {
	Added         int                       `json:"added"`
	Merged        int                       `json:"merged"`
	FieldsChanged int                       `json:"fields_changed"`
	Invalid       int                       `json:"invalid"`
	Result        []model.CompetitorProfile `json:"result"`
	Log           []model.MergeOperation    `json:"log"`
}

// Dedupe merges duplicate records of list according to the configured
// policy. Malformed records are dropped and counted.
func (r *Resolver) Dedupe(list []model.CompetitorProfile) DedupeResult {
	valid, invalid := Sanitize(list)

	var res DedupeResult
	if r.policy == PolicyTransitive {
		res = r.dedupeTransitive(valid)
	} else {
		res = r.dedupeGreedy(valid)
	}
	res.Invalid = invalid
	return res
}

func (r *Resolver) dedupeGreedy(list []model.CompetitorProfile) DedupeResult {
	var res DedupeResult
	absorbed := make([]bool, len(list))

	for i := range list {
		if absorbed[i] {
			continue
		}
		current := list[i]
		members := []model.CompetitorProfile{list[i]}

		for j := i + 1; j < len(list); j++ {
			if absorbed[j] {
				continue
			}
			ok, score := r.matchAny(members, list[j])
			if !ok {
				continue
			}
			current = MergeRecord(current, list[j])
			members = append(members, list[j])
			absorbed[j] = true
			res.Log = append(res.Log, r.op(model.MergeKindMerge, list[i].Name, list[j].Name, score,
				fmt.Sprintf("duplicate of %q (score %.2f)", list[i].Name, score)))
		}

		if len(members) == 1 {
			res.Log = append(res.Log, r.op(model.MergeKindAdd, list[i].Name, "", 0, "no duplicate found"))
		}
		res.Profiles = append(res.Profiles, current)
	}
	return res
}

func (r *Resolver) dedupeTransitive(list []model.CompetitorProfile) DedupeResult {
	uf := newUnionFind(len(list))
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if ok, _ := matchScore(list[i], list[j], r.threshold); ok {
				uf.union(i, j)
			}
		}
	}

	var res DedupeResult
	for _, cluster := range uf.clusters() {
		root := cluster[0]
		current := list[root]
		for k, idx := range cluster[1:] {
			_, score := r.matchAny(pick(list, cluster[:k+1]), list[idx])
			current = MergeRecord(current, list[idx])
			res.Log = append(res.Log, r.op(model.MergeKindMerge, list[root].Name, list[idx].Name, score,
				fmt.Sprintf("transitively linked to %q (score %.2f)", list[root].Name, score)))
		}
		if len(cluster) == 1 {
			res.Log = append(res.Log, r.op(model.MergeKindAdd, list[root].Name, "", 0, "no duplicate found"))
		}
		res.Profiles = append(res.Profiles, current)
	}
	return res
}

// MergeIntoExisting folds incoming records into existing. Each incoming
// record replaces the first duplicate in the running result with the merged
// record, or is appended when nothing matches. A merge that adds no new
// information leaves the existing record untouched.
func (r *Resolver) MergeIntoExisting(existing, incoming []model.CompetitorProfile) MergeStats {
	valid, invalid := Sanitize(incoming)

	stats := MergeStats{Invalid: invalid}
	stats.Result = make([]model.CompetitorProfile, len(existing), len(existing)+len(valid))
	copy(stats.Result, existing)

	for _, in := range valid {
		idx, score := -1, 0.0
		for k := range stats.Result {
			if ok, s := matchScore(stats.Result[k], in, r.threshold); ok {
				idx, score = k, s
				break
			}
		}

		if idx < 0 {
			stats.Result = append(stats.Result, in)
			stats.Added++
			stats.Log = append(stats.Log, r.op(model.MergeKindAdd, in.Name, "", 0, "new competitor"))
			continue
		}

		target := stats.Result[idx]
		merged := MergeRecord(target, in)
		changed := changedAttributes(target, merged)
		stats.Merged++
		if changed == 0 {
			stats.Log = append(stats.Log, r.op(model.MergeKindMerge, target.Name, in.Name, score, "no new information"))
			continue
		}
		stats.Result[idx] = merged
		stats.FieldsChanged += changed
		stats.Log = append(stats.Log, r.op(model.MergeKindMerge, target.Name, in.Name, score,
			fmt.Sprintf("merged %d attribute(s) (score %.2f)", changed, score)))
	}
	return stats
}

// Sanitize drops malformed profiles (no name) and returns the rest with
// trimmed names, plus the number dropped.
func Sanitize(list []model.CompetitorProfile) ([]model.CompetitorProfile, int) {
	out := make([]model.CompetitorProfile, 0, len(list))
	invalid := 0
	for _, p := range list {
		if !p.Valid() {
			invalid++
			continue
		}
		p.Name = strings.TrimSpace(p.Name)
		out = append(out, p)
	}
	return out, invalid
}

// Dedupe runs a greedy Resolver with the given threshold.
func Dedupe(list []model.CompetitorProfile, threshold float64) ([]model.CompetitorProfile, []model.MergeOperation) {
	res := NewResolver(WithThreshold(threshold)).Dedupe(list)
	return res.Profiles, res.Log
}

// MergeIntoExisting runs Resolver.MergeIntoExisting with the given threshold.
func MergeIntoExisting(existing, incoming []model.CompetitorProfile, threshold float64) MergeStats {
	return NewResolver(WithThreshold(threshold)).MergeIntoExisting(existing, incoming)
}

// matchAny reports whether p duplicates any of members, with the best score
// among the matching members.
func (r *Resolver) matchAny(members []model.CompetitorProfile, p model.CompetitorProfile) (bool, float64) {
	found, best := false, 0.0
	for _, m := range members {
		ok, score := matchScore(m, p, r.threshold)
		if ok {
			found = true
			best = max(best, score)
		}
	}
	return found, best
}

func (r *Resolver) op(kind model.MergeKind, a, b string, score float64, reason string) model.MergeOperation {
	return model.MergeOperation{
		Kind:       kind,
		SubjectA:   a,
		SubjectB:   b,
		Similarity: score,
		Reason:     reason,
		Timestamp:  r.now().UTC(),
	}
}

// changedAttributes counts profile attributes, excluding provenance, whose
// values differ between a and b.
func changedAttributes(a, b model.CompetitorProfile) int {
	na, errA := model.Normalize(a)
	nb, errB := model.Normalize(b)
	if errA != nil || errB != nil {
		return 1
	}
	ma, _ := na.(map[string]any)
	mb, _ := nb.(map[string]any)
	delete(ma, "provenance")
	delete(mb, "provenance")

	changed := 0
	for k, v := range mb {
		if !model.Equal(ma[k], v) {
			changed++
		}
	}
	for k := range ma {
		if _, ok := mb[k]; !ok {
			changed++
		}
	}
	return changed
}

func pick(list []model.CompetitorProfile, idx []int) []model.CompetitorProfile {
	out := make([]model.CompetitorProfile, len(idx))
	for i, k := range idx {
		out[i] = list[k]
	}
	return out
}
