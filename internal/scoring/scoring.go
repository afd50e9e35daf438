// Package scoring folds judge submissions into per-problem best scores.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
)

// ProblemResult is the best score of one contest problem. EarliestImprovementTime
// is the earliest submission holding a best value for some subtask, and is nil
// when the problem has no submissions.
type ProblemResult struct {
	ProblemIndex            int        `json:"problem_index"`
	Score                   float64    `json:"score"`
	SubtaskScores           []float64  `json:"subtask_scores"`
	EarliestImprovementTime *time.Time `json:"earliest_improvement_time"`
}

// Aggregate computes, for each declared problem index, the element-wise maximum
// of all its submissions' subtask vectors. The result is ordered by the
// declared indices ascending and ignores submissions for undeclared problems.
// It does not depend on the order of subs and is unchanged by duplicates.
func Aggregate(subs []judge.RawSubmission, declared []int) []ProblemResult {
	groups := make(map[int][]judge.RawSubmission)
	for _, s := range subs {
		groups[s.ProblemIndex] = append(groups[s.ProblemIndex], s)
	}

	indices := sortedUnique(declared)
	results := make([]ProblemResult, 0, len(indices))
	for _, idx := range indices {
		results = append(results, aggregateProblem(idx, groups[idx]))
	}
	return results
}

func aggregateProblem(index int, group []judge.RawSubmission) ProblemResult {
	result := ProblemResult{ProblemIndex: index, SubtaskScores: []float64{}}
	if len(group) == 0 {
		return result
	}

	var best []float64
	for _, s := range group {
		for i, v := range s.SubtaskScores {
			if i >= len(best) {
				best = append(best, 0)
			}
			if v > best[i] {
				best[i] = v
			}
		}
	}

	// A submission contributes when it reaches the best value of a scored subtask.
	var earliest *time.Time
	for _, s := range group {
		if !contributes(s.SubtaskScores, best) {
			continue
		}
		if earliest == nil || s.SubmittedAt.Before(*earliest) {
			t := s.SubmittedAt
			earliest = &t
		}
	}
	if earliest == nil {
		// nothing scored: the first attempt is the earliest time the zero was reached
		for _, s := range group {
			if earliest == nil || s.SubmittedAt.Before(*earliest) {
				t := s.SubmittedAt
				earliest = &t
			}
		}
	}

	for i := range best {
		best[i] = Round(best[i])
	}
	result.SubtaskScores = best
	result.Score = Round(sum(best))
	result.EarliestImprovementTime = earliest
	return result
}

func contributes(scores, best []float64) bool {
	for i, v := range scores {
		if best[i] > 0 && v == best[i] {
			return true
		}
	}
	return false
}

// Total is the sum of the problem scores.
func Total(results []ProblemResult) float64 {
	var total float64
	for _, r := range results {
		total += r.Score
	}
	return Round(total)
}

// Scores lists the problem scores in result order.
func Scores(results []ProblemResult) []float64 {
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
	}
	return scores
}

// StatusForScore maps a problem score to a checklist status.
func StatusForScore(score float64) models.Status {
	switch {
	case score >= 100:
		return models.StatusSolved
	case score > 0:
		return models.StatusPartial
	}
	return models.StatusUnattempted
}

// Round rounds to two decimals.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func sortedUnique(values []int) []int {
	seen := make(map[int]bool, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
