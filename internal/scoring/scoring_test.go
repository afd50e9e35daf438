package scoring

import (
	"reflect"
	"testing"
	"time"

	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
)

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func sub(index int, minute int, scores ...float64) judge.RawSubmission {
	return judge.RawSubmission{
		ProblemIndex:  index,
		SubmittedAt:   base.Add(time.Duration(minute) * time.Minute),
		SubtaskScores: scores,
	}
}

func TestAggregateElementWiseMax(t *testing.T) {
	subs := []judge.RawSubmission{
		sub(1, 30, 10, 0, 0),
		sub(1, 90, 0, 5, 20),
	}
	results := Aggregate(subs, []int{1})
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	r := results[0]
	if r.Score != 35 {
		t.Errorf("score = %v, expected 35", r.Score)
	}
	if !reflect.DeepEqual(r.SubtaskScores, []float64{10, 5, 20}) {
		t.Errorf("subtasks = %v", r.SubtaskScores)
	}
	if r.EarliestImprovementTime == nil || !r.EarliestImprovementTime.Equal(base.Add(30*time.Minute)) {
		t.Errorf("earliest = %v, expected t1", r.EarliestImprovementTime)
	}
}

func TestAggregateEarliestImprovement(t *testing.T) {
	tests := []struct {
		name string
		subs []judge.RawSubmission
		want time.Time
	}{
		{
			name: "later equal total does not count",
			subs: []judge.RawSubmission{sub(1, 50, 0, 0), sub(1, 10, 30, 0), sub(1, 20, 0, 40)},
			want: base.Add(10 * time.Minute),
		},
		{
			name: "superseded submission does not count",
			subs: []judge.RawSubmission{sub(1, 5, 10, 10), sub(1, 60, 20, 20)},
			want: base.Add(60 * time.Minute),
		},
		{
			name: "all zero uses first attempt",
			subs: []judge.RawSubmission{sub(1, 40, 0, 0), sub(1, 15, 0)},
			want: base.Add(15 * time.Minute),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Aggregate(tt.subs, []int{1})[0]
			if r.EarliestImprovementTime == nil || !r.EarliestImprovementTime.Equal(tt.want) {
				t.Fatalf("earliest = %v, expected %v", r.EarliestImprovementTime, tt.want)
			}
		})
	}
}

func TestAggregateDeclaredIndices(t *testing.T) {
	subs := []judge.RawSubmission{
		sub(3, 1, 50),
		sub(7, 2, 100),
		sub(1, 3, 12.346, 0.001),
	}
	results := Aggregate(subs, []int{3, 1, 2, 3})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %+v", results)
	}
	for i, want := range []int{1, 2, 3} {
		if results[i].ProblemIndex != want {
			t.Fatalf("result %d has index %d, expected %d", i, results[i].ProblemIndex, want)
		}
	}
	if results[0].Score != 12.35 {
		t.Errorf("rounded score = %v, expected 12.35", results[0].Score)
	}
	if results[1].Score != 0 || results[1].EarliestImprovementTime != nil || len(results[1].SubtaskScores) != 0 {
		t.Errorf("missing problem should be empty: %+v", results[1])
	}
	if Total(results) != 62.35 {
		t.Errorf("total = %v", Total(results))
	}
	if !reflect.DeepEqual(Scores(results), []float64{12.35, 0, 50}) {
		t.Errorf("scores = %v", Scores(results))
	}
}

func TestAggregateIdempotentAndOrderIndependent(t *testing.T) {
	subs := []judge.RawSubmission{
		sub(1, 10, 10, 0, 0),
		sub(2, 11, 100),
		sub(1, 20, 0, 5, 20, 7),
		sub(1, 30, 10, 5),
		sub(2, 40, 30),
	}
	declared := []int{1, 2}
	want := Aggregate(subs, declared)

	doubled := append(append([]judge.RawSubmission{}, subs...), subs...)
	if got := Aggregate(doubled, declared); !reflect.DeepEqual(got, want) {
		t.Fatalf("duplicated input changed result:\n%+v\n%+v", got, want)
	}

	reversed := make([]judge.RawSubmission, len(subs))
	for i, s := range subs {
		reversed[len(subs)-1-i] = s
	}
	if got := Aggregate(reversed, declared); !reflect.DeepEqual(got, want) {
		t.Fatalf("reordered input changed result:\n%+v\n%+v", got, want)
	}
}

func TestAggregateMonotonic(t *testing.T) {
	all := []judge.RawSubmission{
		sub(1, 1, 5, 0),
		sub(1, 2, 0, 7),
		sub(2, 3, 20),
		sub(1, 4, 3, 3, 3),
		sub(2, 5, 80),
	}
	declared := []int{1, 2}
	prev := Aggregate(nil, declared)
	for n := 1; n <= len(all); n++ {
		cur := Aggregate(all[:n], declared)
		for i := range cur {
			if cur[i].Score < prev[i].Score {
				t.Fatalf("problem %d decreased from %v to %v after %d submissions", cur[i].ProblemIndex, prev[i].Score, cur[i].Score, n)
			}
		}
		prev = cur
	}
	if prev[0].Score != 15 || prev[1].Score != 80 {
		t.Fatalf("final scores = %v, %v", prev[0].Score, prev[1].Score)
	}
}

func TestStatusForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  models.Status
	}{
		{0, models.StatusUnattempted},
		{0.01, models.StatusPartial},
		{99.99, models.StatusPartial},
		{100, models.StatusSolved},
	}
	for _, tt := range tests {
		if got := StatusForScore(tt.score); got != tt.want {
			t.Errorf("StatusForScore(%v) = %v, expected %v", tt.score, got, tt.want)
		}
	}
}
