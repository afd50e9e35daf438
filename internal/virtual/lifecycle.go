package virtual

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/scoring"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Start opens a virtual contest for the user. The contest clock starts now.
func (s *Service) Start(ctx context.Context, userID string, ref models.ContestRef, autosync bool) (*ActiveView, error) {
	if ref.Name == "" {
		return nil, fmt.Errorf("missing contest name: %w", util.ErrValidation)
	}

	var view *ActiveView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := database.GetActiveContest(tx, userID); err == nil {
			return fmt.Errorf("user already has an active contest: %w", util.ErrConflict)
		} else if !errors.Is(err, util.ErrNotFound) {
			return err
		}

		done, err := database.IsContestCompleted(tx, userID, ref)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("contest %q already completed: %w", ref.String(), util.ErrConflict)
		}

		contest, err := database.GetContest(tx, ref)
		if err != nil {
			return err
		}

		active := models.ActiveVirtualContest{
			UserID:       userID,
			ContestName:  contest.Name,
			ContestStage: contest.Stage,
			StartTime:    s.now().UTC(),
			Autosync:     autosync,
		}
		if err := database.CreateActiveContest(tx, &active); err != nil {
			return err
		}
		view = newActiveView(&active, contest)
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infof("user %s started virtual contest %s (autosync=%v)", userID, ref, autosync)
	return view, nil
}

// End stops the contest clock at min(now, start + duration). Ending an ended
// contest changes nothing. With autosync the judges are crawled right away;
// a failed sync is reported in the result and does not fail the call.
func (s *Service) End(ctx context.Context, userID string) (*EndResult, error) {
	active, err := database.GetActiveContest(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	contest, err := database.GetContest(s.db.WithContext(ctx), active.Ref())
	if err != nil {
		return nil, err
	}
	if active.Ended() {
		return &EndResult{Active: newActiveView(active, contest), AlreadyEnded: true}, nil
	}

	endTime := s.now().UTC()
	if deadline := active.StartTime.Add(contest.Duration()); endTime.After(deadline) {
		endTime = deadline
	}
	set, err := database.SetEndTime(s.db.WithContext(ctx), userID, endTime)
	if err != nil {
		return nil, err
	}
	if !set {
		// ended concurrently, or confirmed and removed in between
		active, err = database.GetActiveContest(s.db.WithContext(ctx), userID)
		if err != nil {
			return nil, err
		}
		return &EndResult{Active: newActiveView(active, contest), AlreadyEnded: true}, nil
	}
	active.EndTime = &endTime
	zap.S().Infof("user %s ended virtual contest %s at %s", userID, active.Ref(), endTime)

	result := &EndResult{}
	if active.Autosync {
		report, err := s.sync(ctx, active)
		if err != nil {
			zap.S().Warnf("sync for user %s failed: %v", userID, err)
			result.SyncError = err.Error()
		}
		result.Sync = report
		if refreshed, err := database.GetActiveContest(s.db.WithContext(ctx), userID); err == nil {
			active = refreshed
		}
	}
	result.Active = newActiveView(active, contest)
	return result, nil
}

// Resync crawls the judges again for an ended contest. Unlike End, failures are returned.
func (s *Service) Resync(ctx context.Context, userID string) (*SyncReport, error) {
	active, err := database.GetActiveContest(s.db.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	if !active.Ended() {
		return nil, fmt.Errorf("contest has not ended yet: %w", util.ErrNotFound)
	}
	return s.sync(ctx, active)
}

// Confirm archives a synced contest and folds its scores into the user's
// problem checklist.
func (s *Service) Confirm(ctx context.Context, userID string) (*CompletedView, error) {
	var view CompletedView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := database.GetActiveContest(tx, userID)
		if err != nil {
			return err
		}
		if !active.Ended() || !active.Synced() {
			return fmt.Errorf("no synced contest to confirm: %w", util.ErrNotFound)
		}

		archived := models.VirtualContest{
			UserID:           userID,
			ContestName:      active.ContestName,
			ContestStage:     active.ContestStage,
			StartedAt:        active.StartTime,
			EndedAt:          *active.EndTime,
			Score:            *active.Score,
			PerProblemScores: active.PerProblemScores,
			Platform:         active.Platform,
		}
		if err := database.ArchiveContest(tx, &archived); err != nil {
			return err
		}

		entries, err := database.GetContestProblems(tx, active.Ref())
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for i, entry := range entries {
			if i >= len(active.PerProblemScores) {
				break
			}
			if entry.Problem == nil {
				zap.S().Warnf("contest %s problem %d is missing from the catalog", active.Ref(), entry.Index)
				continue
			}
			score := active.PerProblemScores[i]
			err := database.UpsertProblemStatus(tx, models.ProblemStatus{
				UserID:      userID,
				ProblemName: entry.Problem.Name,
				Source:      entry.Problem.Source,
				Year:        entry.Problem.Year,
				Status:      scoring.StatusForScore(score),
				Score:       score,
				UpdatedAt:   now,
			})
			if err != nil {
				return err
			}
		}

		if err := database.DeleteActiveContest(tx, userID); err != nil {
			return err
		}
		contest, _ := database.GetContest(tx, active.Ref())
		view = newCompletedView(archived, contest)
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infof("user %s confirmed virtual contest %s with %.2f", userID, view.ContestName, view.TotalScore)
	return &view, nil
}

// Submit archives an ended contest with self-reported scores. A nil total is
// the sum of scores. Synced contests cannot be overridden, and manual results
// do not touch the problem checklist.
func (s *Service) Submit(ctx context.Context, userID string, scores []float64, total *float64) (*CompletedView, error) {
	if len(scores) == 0 {
		return nil, fmt.Errorf("no scores provided: %w", util.ErrValidation)
	}
	for i, v := range scores {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("score %d is invalid: %w", i+1, util.ErrValidation)
		}
	}
	totalScore := scoring.Round(sumScores(scores))
	if total != nil {
		if *total < 0 || math.IsNaN(*total) || math.IsInf(*total, 0) {
			return nil, fmt.Errorf("total score is invalid: %w", util.ErrValidation)
		}
		totalScore = *total
	}

	var view CompletedView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		active, err := database.GetActiveContest(tx, userID)
		if err != nil {
			return err
		}
		if !active.Ended() {
			return fmt.Errorf("no ended contest found: %w", util.ErrNotFound)
		}
		if active.Synced() {
			return fmt.Errorf("scores of a synced contest cannot be changed manually: %w", util.ErrForbidden)
		}

		archived := models.VirtualContest{
			UserID:           userID,
			ContestName:      active.ContestName,
			ContestStage:     active.ContestStage,
			StartedAt:        active.StartTime,
			EndedAt:          *active.EndTime,
			Score:            totalScore,
			PerProblemScores: models.Scores(scores),
			Platform:         manualPlatform,
		}
		if err := database.ArchiveContest(tx, &archived); err != nil {
			return err
		}
		if err := database.DeleteActiveContest(tx, userID); err != nil {
			return err
		}
		contest, _ := database.GetContest(tx, active.Ref())
		view = newCompletedView(archived, contest)
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infof("user %s submitted virtual contest %s with %.2f", userID, view.ContestName, view.TotalScore)
	return &view, nil
}

func sumScores(scores []float64) float64 {
	var total float64
	for _, v := range scores {
		total += v
	}
	return total
}
