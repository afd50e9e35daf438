// Package practice imports a user's full submission history from a judge
// into the problem checklist, outside of any virtual contest.
package practice

import (
	"context"
	"fmt"
	"time"

	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/scoring"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db      *gorm.DB
	judges  *judge.Registry
	locks   kv.Store
	timeout time.Duration
	lockTTL time.Duration
	now     func() time.Time
}

func NewService(db *gorm.DB, judges *judge.Registry, locks kv.Store, cfg config.Sync) *Service {
	return &Service{
		db:      db,
		judges:  judges,
		locks:   locks,
		timeout: cfg.Timeout,
		lockTTL: cfg.LockTTL,
		now:     time.Now,
	}
}

type ProblemUpdate struct {
	ProblemName string        `json:"problem_name"`
	Source      string        `json:"source"`
	Year        int           `json:"year"`
	Score       float64       `json:"score"`
	Status      models.Status `json:"status"`
}

type Result struct {
	Platform    string          `json:"platform"`
	Submissions int             `json:"submissions"`
	Updated     int             `json:"updated"`
	Problems    []ProblemUpdate `json:"problems"`
}

func lockKey(userID, platform string) string {
	return "practice-lock:" + userID + ":" + platform
}

// SyncProfile crawls every submission of the user on one judge and raises the
// checklist entry of each catalog problem that received a submission.
func (s *Service) SyncProfile(ctx context.Context, userID, platform string) (*Result, error) {
	client, ok := s.judges.Get(platform)
	if !ok {
		return nil, fmt.Errorf("judge %q is not enabled: %w", platform, util.ErrNotFound)
	}
	db := s.db.WithContext(ctx)
	usernames, err := database.GetPlatformUsernames(db, userID)
	if err != nil {
		return nil, err
	}
	username := usernames[platform]
	if username == "" {
		return nil, fmt.Errorf("no %s username configured: %w", platform, util.ErrValidation)
	}

	unlock, locked, err := kv.Lock(ctx, s.locks, lockKey(userID, platform), s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("a %s sync is already running: %w", platform, util.ErrConflict)
	}
	defer unlock()

	problems, err := database.ListProblemsWithLinks(db, platform)
	if err != nil {
		return nil, err
	}
	// targets are keyed by judge problem id; indices point back into problems
	targets := make(map[string]judge.Target)
	declared := make([]int, 0, len(problems))
	for i, p := range problems {
		for _, link := range p.Links {
			if id, ok := client.ProblemID(link.URL); ok {
				targets[id] = judge.Target{Index: i + 1, Name: p.Name}
			}
		}
		declared = append(declared, i+1)
	}
	result := &Result{Platform: platform, Problems: []ProblemUpdate{}}
	if len(targets) == 0 {
		return result, nil
	}

	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	subs, err := client.FetchSubmissions(fctx, judge.Window{}, targets, username)
	if err != nil {
		zap.S().Errorf("%s profile sync for user %s failed: %v", platform, userID, err)
		return nil, err
	}
	result.Submissions = len(subs)

	attempted := make(map[int]bool, len(subs))
	for _, sub := range subs {
		attempted[sub.ProblemIndex] = true
	}
	now := s.now().UTC()
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, pr := range scoring.Aggregate(subs, declared) {
			if !attempted[pr.ProblemIndex] {
				continue
			}
			p := problems[pr.ProblemIndex-1]
			update := ProblemUpdate{
				ProblemName: p.Name,
				Source:      p.Source,
				Year:        p.Year,
				Score:       pr.Score,
				Status:      scoring.StatusForScore(pr.Score),
			}
			err := database.UpsertProblemStatus(tx, models.ProblemStatus{
				UserID:      userID,
				ProblemName: p.Name,
				Source:      p.Source,
				Year:        p.Year,
				Status:      update.Status,
				Score:       update.Score,
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}
			result.Problems = append(result.Problems, update)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Updated = len(result.Problems)
	zap.S().Infof("practice sync of %s for user %s: %d submissions, %d problems", platform, userID, result.Submissions, result.Updated)
	return result, nil
}
