// Package judge crawls external online judges for a user's submissions and
// their per-subtask scores.
package judge

import (
	"context"
	"sort"
	"time"

	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/kv"
)

const (
	PlatformOJUZ = "oj.uz"
	PlatformQOJ  = "qoj.ac"
)

// Known reports whether platform names a judge the tracker can crawl,
// whether or not it is enabled in this deployment.
func Known(platform string) bool {
	return platform == PlatformOJUZ || platform == PlatformQOJ
}

// Window is the time range a crawl is interested in. A zero Start disables the
// early stop and a zero End keeps every newer submission.
type Window struct {
	Start time.Time
	End   time.Time
}

// Before reports whether t lies before the window, which ends a newest-first crawl.
func (w Window) Before(t time.Time) bool {
	return !w.Start.IsZero() && t.Before(w.Start)
}

// After reports whether t lies after the window. Such submissions are skipped.
func (w Window) After(t time.Time) bool {
	return !w.End.IsZero() && t.After(w.End)
}

// Target is a problem of interest, keyed by its judge-specific id.
type Target struct {
	Index int
	Name  string
}

type RawSubmission struct {
	ProblemIndex  int
	ProblemName   string
	Platform      string
	SubmissionID  string
	SubmittedAt   time.Time
	SubtaskScores []float64
	TotalScore    float64
}

// Client is one external judge.
type Client interface {
	Platform() string
	// ProblemID extracts the judge's problem id from a catalog link.
	ProblemID(link string) (string, bool)
	FetchSubmissions(ctx context.Context, window Window, targets map[string]Target, username string) ([]RawSubmission, error)
}

// Registry holds the enabled judge clients by platform.
type Registry struct {
	clients map[string]Client
}

func NewRegistry(cfg config.Judges, store kv.Store) *Registry {
	r := &Registry{clients: make(map[string]Client)}
	if cfg.OJUZ.Enabled {
		r.Register(NewOJUZ(cfg.OJUZ))
	}
	if cfg.QOJ.Enabled {
		r.Register(NewQOJ(cfg.QOJ, store))
	}
	return r
}

func (r *Registry) Register(c Client) {
	r.clients[c.Platform()] = c
}

func (r *Registry) Get(platform string) (Client, bool) {
	c, ok := r.clients[platform]
	return c, ok
}

// Clients returns the registered clients ordered by platform.
func (r *Registry) Clients() []Client {
	list := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Platform() < list[j].Platform() })
	return list
}

func sum(scores []float64) float64 {
	var total float64
	for _, s := range scores {
		total += s
	}
	return total
}
