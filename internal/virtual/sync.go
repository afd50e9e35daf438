package virtual

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/judge"
	"github.com/olytrack/olytrack/internal/kv"
	"github.com/olytrack/olytrack/internal/pubsub"
	"github.com/olytrack/olytrack/internal/scoring"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func syncLockKey(userID string) string {
	return "sync-lock:" + userID
}

type judgeJob struct {
	client   judge.Client
	username string
	targets  map[string]judge.Target
	subs     []judge.RawSubmission
	err      error
}

// sync crawls every judge the user has an account on, stores the submissions
// inside the contest window and records the aggregated scores on the active
// contest. It succeeds when at least one judge answered.
func (s *Service) sync(ctx context.Context, active *models.ActiveVirtualContest) (*SyncReport, error) {
	userID := active.UserID
	ref := active.Ref()
	if active.EndTime == nil {
		return nil, fmt.Errorf("contest has not ended yet: %w", util.ErrNotFound)
	}

	unlock, locked, err := kv.Lock(ctx, s.locks, syncLockKey(userID), s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, fmt.Errorf("a sync is already running: %w", util.ErrConflict)
	}
	defer unlock()

	db := s.db.WithContext(ctx)
	entries, err := database.GetContestProblems(db, ref)
	if err != nil {
		return nil, err
	}
	usernames, err := database.GetPlatformUsernames(db, userID)
	if err != nil {
		return nil, err
	}
	jobs := s.planJobs(entries, usernames)
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no linked judge account covers the problems of %s: %w", ref, util.ErrValidation)
	}

	topic := pubsub.SyncTopic(userID)
	s.reset(topic)
	s.publish(topic, pubsub.StreamSyncStarted, pubsub.SyncEvent{Contest: ref.String()})

	window := judge.Window{Start: active.StartTime, End: *active.EndTime}
	var g errgroup.Group
	for _, job := range jobs {
		g.Go(func() error {
			jctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
			defer cancel()
			job.subs, job.err = job.client.FetchSubmissions(jctx, window, job.targets, job.username)
			platform := job.client.Platform()
			if job.err != nil {
				zap.S().Errorf("%s sync for user %s failed: %v", platform, userID, job.err)
				s.publish(topic, pubsub.StreamJudgeFailed, pubsub.SyncEvent{Contest: ref.String(), Platform: platform, Message: job.err.Error()})
				return nil
			}
			s.publish(topic, pubsub.StreamJudgeDone, pubsub.SyncEvent{Contest: ref.String(), Platform: platform, Count: len(job.subs)})
			return nil
		})
	}
	_ = g.Wait()

	report := &SyncReport{}
	var fetched []judge.RawSubmission
	var errs []error
	var platforms []string
	for _, job := range jobs {
		jr := JudgeReport{Platform: job.client.Platform(), Submissions: len(job.subs)}
		if job.err != nil {
			jr.Error = job.err.Error()
			errs = append(errs, job.err)
		} else {
			platforms = append(platforms, job.client.Platform())
			fetched = append(fetched, job.subs...)
		}
		report.Judges = append(report.Judges, jr)
	}
	if len(platforms) == 0 {
		err := fmt.Errorf("no judge could be synced: %w", errors.Join(errs...))
		s.publish(topic, pubsub.StreamSyncFinished, pubsub.SyncEvent{Contest: ref.String(), Message: err.Error()})
		return report, err
	}

	declared := make([]int, len(entries))
	for i, e := range entries {
		declared[i] = e.Index
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, sub := range fetched {
			rec := models.VirtualSubmission{
				UserID:         userID,
				ContestName:    ref.Name,
				ContestStage:   ref.Stage,
				ProblemIndex:   sub.ProblemIndex,
				SubmissionTime: sub.SubmittedAt,
				Platform:       sub.Platform,
				SubmissionID:   sub.SubmissionID,
				Score:          scoring.Round(sub.TotalScore),
				SubtaskScores:  models.Scores(sub.SubtaskScores),
			}
			if err := database.RecordSubmission(tx, &rec); err != nil {
				return err
			}
		}

		// aggregate over everything stored for the window so a judge that
		// fails on a resync keeps its earlier submissions
		stored, err := database.GetVirtualSubmissions(tx, userID, ref, window.Start, window.End)
		if err != nil {
			return err
		}
		report.Problems = scoring.Aggregate(toRaw(stored), declared)
		report.Total = scoring.Total(report.Problems)
		return database.SetSyncResult(tx, userID, report.Total, scoring.Scores(report.Problems), strings.Join(platforms, ","), s.now())
	})
	if err != nil {
		return nil, err
	}

	total := report.Total
	s.publish(topic, pubsub.StreamSyncFinished, pubsub.SyncEvent{Contest: ref.String(), Score: &total, Count: len(fetched)})
	zap.S().Infof("synced %s for user %s: %d submissions, total %.2f", ref, userID, len(fetched), total)
	return report, nil
}

// planJobs pairs every registered judge the user has a username on with the
// contest problems linked on that judge.
func (s *Service) planJobs(entries []database.ContestProblemEntry, usernames models.StringMap) []*judgeJob {
	var jobs []*judgeJob
	for _, client := range s.judges.Clients() {
		username := usernames[client.Platform()]
		if username == "" {
			continue
		}
		targets := make(map[string]judge.Target)
		for _, entry := range entries {
			if entry.Problem == nil {
				continue
			}
			for _, link := range entry.Problem.Links {
				if link.Platform != client.Platform() {
					continue
				}
				if id, ok := client.ProblemID(link.URL); ok {
					targets[id] = judge.Target{Index: entry.Index, Name: entry.Problem.Name}
				}
			}
		}
		if len(targets) == 0 {
			continue
		}
		jobs = append(jobs, &judgeJob{client: client, username: username, targets: targets})
	}
	return jobs
}

func toRaw(stored []models.VirtualSubmission) []judge.RawSubmission {
	subs := make([]judge.RawSubmission, len(stored))
	for i, v := range stored {
		subs[i] = judge.RawSubmission{
			ProblemIndex:  v.ProblemIndex,
			Platform:      v.Platform,
			SubmissionID:  v.SubmissionID,
			SubmittedAt:   v.SubmissionTime,
			SubtaskScores: v.SubtaskScores,
			TotalScore:    v.Score,
		}
	}
	return subs
}

func (s *Service) publish(topic, stream string, event pubsub.SyncEvent) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(topic, pubsub.FormatMessage(stream, event))
}

func (s *Service) reset(topic string) {
	if s.broker != nil {
		s.broker.Reset(topic)
	}
}
