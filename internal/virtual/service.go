// Package virtual runs timed virtual contests: start, end with an optional
// judge sync, and archiving through confirm or a manual submit.
package virtual

import (
	"time"

	"github.com/gosimple/slug"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/pubsub"
	"github.com/olytrack/olytrack/internal/scoring"
	"gorm.io/gorm"
)

const (
	recentLimit    = 3
	manualPlatform = "manual"
)

type Service struct {
	db          *gorm.DB
	judges      *judge.Registry
	locks       kv.Store
	broker      *pubsub.Broker
	syncTimeout time.Duration
	lockTTL     time.Duration
	now         func() time.Time
}

func NewService(db *gorm.DB, judges *judge.Registry, locks kv.Store, broker *pubsub.Broker, cfg config.Sync) *Service {
	return &Service{
		db:          db,
		judges:      judges,
		locks:       locks,
		broker:      broker,
		syncTimeout: cfg.Timeout,
		lockTTL:     cfg.LockTTL,
		now:         time.Now,
	}
}

// ActiveView is the active contest together with its catalog metadata.
type ActiveView struct {
	ContestName      string     `json:"contest_name"`
	ContestStage     *string    `json:"contest_stage"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	Deadline         time.Time  `json:"deadline"`
	DurationMinutes  int        `json:"duration_minutes"`
	Location         string     `json:"location"`
	Website          string     `json:"website"`
	Link             string     `json:"link"`
	Autosync         bool       `json:"autosync"`
	Synced           bool       `json:"synced"`
	SyncedAt         *time.Time `json:"synced_at"`
	Score            *float64   `json:"score"`
	PerProblemScores []float64  `json:"per_problem_scores"`
	Platform         string     `json:"platform,omitempty"`
}

func newActiveView(a *models.ActiveVirtualContest, c *models.Contest) *ActiveView {
	v := &ActiveView{
		ContestName:      a.ContestName,
		ContestStage:     a.Ref().StagePtr(),
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		Autosync:         a.Autosync,
		Synced:           a.Synced(),
		SyncedAt:         a.SyncedAt,
		Score:            a.Score,
		PerProblemScores: a.PerProblemScores,
		Platform:         a.Platform,
	}
	if c != nil {
		v.Deadline = a.StartTime.Add(c.Duration())
		v.DurationMinutes = c.DurationMinutes
		v.Location = c.Location
		v.Website = c.Website
		v.Link = c.Link
	}
	return v
}

// CompletedView is an archived contest result.
type CompletedView struct {
	ContestName      string    `json:"contest_name"`
	ContestStage     *string   `json:"contest_stage"`
	ContestSource    string    `json:"contest_source"`
	ContestYear      int       `json:"contest_year"`
	Location         string    `json:"location"`
	Website          string    `json:"website"`
	Slug             string    `json:"slug"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	TotalScore       float64   `json:"total_score"`
	PerProblemScores []float64 `json:"per_problem_scores"`
	Platform         string    `json:"platform"`
}

func newCompletedView(vc models.VirtualContest, c *models.Contest) CompletedView {
	v := CompletedView{
		ContestName:      vc.ContestName,
		ContestStage:     vc.Ref().StagePtr(),
		Slug:             Slug(vc.Ref()),
		StartedAt:        vc.StartedAt,
		EndedAt:          vc.EndedAt,
		TotalScore:       vc.Score,
		PerProblemScores: vc.PerProblemScores,
		Platform:         vc.Platform,
	}
	if c != nil {
		v.ContestSource = c.Source
		v.ContestYear = c.Year
		v.Location = c.Location
		v.Website = c.Website
	}
	return v
}

// DetailView is an archived contest with the submissions fetched for it.
type DetailView struct {
	CompletedView
	Submissions []models.VirtualSubmission `json:"submissions"`
}

type Overview struct {
	Active    *ActiveView     `json:"active_contest"`
	Recent    []CompletedView `json:"recent"`
	Completed []string        `json:"completed_contests"`
}

type JudgeReport struct {
	Platform    string `json:"platform"`
	Submissions int    `json:"submissions"`
	Error       string `json:"error,omitempty"`
}

type SyncReport struct {
	Problems []scoring.ProblemResult `json:"problems"`
	Total    float64                 `json:"total_score"`
	Judges   []JudgeReport           `json:"judges"`
}

// EndResult is the outcome of ending a contest. SyncError explains why an
// automatic sync did not complete; the contest is ended regardless.
type EndResult struct {
	Active       *ActiveView `json:"active_contest"`
	AlreadyEnded bool        `json:"already_ended"`
	Sync         *SyncReport `json:"sync,omitempty"`
	SyncError    string      `json:"sync_error,omitempty"`
}

// Slug is the URL form of a contest reference, e.g. "ioi-2024-day-1".
func Slug(ref models.ContestRef) string {
	return slug.Make(ref.String())
}
