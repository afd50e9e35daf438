package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/util"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ByContest restricts a query on a table with contest_name/contest_stage columns.
func ByContest(ref models.ContestRef) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("contest_name = ? AND contest_stage = ?", ref.Name, ref.Stage)
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, util.ErrNotFound)
	}
	return err
}

func conflict(err error, what string) error {
	if util.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, util.ErrConflict)
	}
	return err
}

// User CRUD
func CreateUser(db *gorm.DB, user *models.User) error {
	return conflict(db.Create(user).Error, "username already exists")
}

func GetUserByID(db *gorm.DB, id string) (*models.User, error) {
	var user models.User
	if err := db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err, "user not found")
	}
	return &user, nil
}

func GetUserByUsername(db *gorm.DB, username string) (*models.User, error) {
	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err, "user not found")
	}
	return &user, nil
}

func GetUserByGitHubID(db *gorm.DB, githubID string) (*models.User, error) {
	var user models.User
	if err := db.Where("git_hub_id = ?", githubID).First(&user).Error; err != nil {
		return nil, notFound(err, "user not found")
	}
	return &user, nil
}

func UpdateUser(db *gorm.DB, user *models.User) error {
	return conflict(db.Save(user).Error, "username already exists")
}

// Settings

func GetPlatformUsernames(db *gorm.DB, userID string) (models.StringMap, error) {
	var settings models.UserSettings
	err := db.Where("user_id = ?", userID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.StringMap{}, nil
	}
	if err != nil {
		return nil, err
	}
	if settings.PlatformUsernames == nil {
		settings.PlatformUsernames = models.StringMap{}
	}
	return settings.PlatformUsernames, nil
}

// SetPlatformUsername stores the user's handle on one judge. An empty username removes it.
func SetPlatformUsername(db *gorm.DB, userID, platform, username string) (models.StringMap, error) {
	var result models.StringMap
	err := db.Transaction(func(tx *gorm.DB) error {
		current, err := GetPlatformUsernames(tx, userID)
		if err != nil {
			return err
		}
		if username == "" {
			delete(current, platform)
		} else {
			current[platform] = username
		}
		settings := models.UserSettings{UserID: userID, PlatformUsernames: current}
		if err := tx.Save(&settings).Error; err != nil {
			return err
		}
		result = current
		return nil
	})
	return result, err
}

// Catalog

func ListContests(db *gorm.DB) ([]models.Contest, error) {
	var contests []models.Contest
	if err := db.Order("year desc, source, name, stage").Find(&contests).Error; err != nil {
		return nil, err
	}
	return contests, nil
}

func GetContest(db *gorm.DB, ref models.ContestRef) (*models.Contest, error) {
	var contest models.Contest
	err := db.Where("name = ? AND stage = ?", ref.Name, ref.Stage).First(&contest).Error
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("contest %q not found", ref.String()))
	}
	return &contest, nil
}

// ContestProblemEntry is a contest problem with its catalog record.
// Problem is nil when the catalog has no matching problem.
type ContestProblemEntry struct {
	Index   int
	Problem *models.Problem
}

func GetContestProblems(db *gorm.DB, ref models.ContestRef) ([]ContestProblemEntry, error) {
	var rows []models.ContestProblem
	if err := db.Scopes(ByContest(ref)).Order("problem_index asc").Find(&rows).Error; err != nil {
		return nil, err
	}

	entries := make([]ContestProblemEntry, 0, len(rows))
	for _, row := range rows {
		entry := ContestProblemEntry{Index: row.ProblemIndex}
		var problem models.Problem
		err := db.Where("source = ? AND year = ? AND number = ? AND extra = ?",
			row.ProblemSource, row.ProblemYear, row.ProblemNumber, row.ProblemExtra).
			First(&problem).Error
		switch {
		case err == nil:
			if problem.Links, err = GetProblemLinks(db, problem.ID); err != nil {
				return nil, err
			}
			entry.Problem = &problem
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetProblemLinks returns the judge links of a problem ordered by platform.
func GetProblemLinks(db *gorm.DB, problemID uint) ([]models.ProblemLink, error) {
	links := []models.ProblemLink{}
	if err := db.Where("problem_id = ?", problemID).Order("platform asc").Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

// ListProblemsWithLinks returns every problem with a link on the given platform.
func ListProblemsWithLinks(db *gorm.DB, platform string) ([]models.Problem, error) {
	var problems []models.Problem
	err := db.Preload("Links", "platform = ?", platform).
		Where("id IN (?)", db.Model(&models.ProblemLink{}).Select("problem_id").Where("platform = ?", platform)).
		Find(&problems).Error
	if err != nil {
		return nil, err
	}
	return problems, nil
}

// Active virtual contests

func GetActiveContest(db *gorm.DB, userID string) (*models.ActiveVirtualContest, error) {
	var active models.ActiveVirtualContest
	if err := db.Where("user_id = ?", userID).First(&active).Error; err != nil {
		return nil, notFound(err, "no active contest found")
	}
	return &active, nil
}

func CreateActiveContest(db *gorm.DB, active *models.ActiveVirtualContest) error {
	return conflict(db.Create(active).Error, "user already has an active contest")
}

// SetEndTime records the end of the active contest. It only writes when no end
// time is stored yet and reports whether it did.
func SetEndTime(db *gorm.DB, userID string, endTime time.Time) (bool, error) {
	result := db.Model(&models.ActiveVirtualContest{}).
		Where("user_id = ? AND end_time IS NULL", userID).
		Update("end_time", endTime.UTC())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func SetSyncResult(db *gorm.DB, userID string, total float64, perProblem []float64, platform string, syncedAt time.Time) error {
	result := db.Model(&models.ActiveVirtualContest{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"score":              total,
			"per_problem_scores": models.Scores(perProblem),
			"platform":           platform,
			"synced_at":          syncedAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no active contest found: %w", util.ErrNotFound)
	}
	return nil
}

func DeleteActiveContest(db *gorm.DB, userID string) error {
	return db.Where("user_id = ?", userID).Delete(&models.ActiveVirtualContest{}).Error
}

// Completed virtual contests

func ArchiveContest(db *gorm.DB, contest *models.VirtualContest) error {
	return conflict(db.Create(contest).Error, "contest already completed")
}

func IsContestCompleted(db *gorm.DB, userID string, ref models.ContestRef) (bool, error) {
	var count int64
	err := db.Model(&models.VirtualContest{}).
		Where("user_id = ?", userID).
		Scopes(ByContest(ref)).
		Count(&count).Error
	return count > 0, err
}

// ListVirtualContests returns completed contests, newest first. A limit <= 0 returns all.
func ListVirtualContests(db *gorm.DB, userID string, limit int) ([]models.VirtualContest, error) {
	var contests []models.VirtualContest
	q := db.Where("user_id = ?", userID).Order("started_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&contests).Error; err != nil {
		return nil, err
	}
	return contests, nil
}

// Submissions

// RecordSubmission stores one fetched submission, replacing a previous copy of the same submission.
func RecordSubmission(db *gorm.DB, sub *models.VirtualSubmission) error {
	sub.SubmissionTime = sub.SubmissionTime.UTC()
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"}, {Name: "contest_name"}, {Name: "contest_stage"},
			{Name: "problem_index"}, {Name: "submission_time"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"platform", "submission_id", "score", "subtask_scores"}),
	}).Create(sub).Error
}

func GetVirtualSubmissions(db *gorm.DB, userID string, ref models.ContestRef, from, to time.Time) ([]models.VirtualSubmission, error) {
	var subs []models.VirtualSubmission
	err := db.Where("user_id = ?", userID).
		Scopes(ByContest(ref)).
		Where("submission_time >= ? AND submission_time <= ?", from.UTC(), to.UTC()).
		Order("submission_time asc").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// Problem statuses

// UpsertProblemStatus applies a score to the permanent checklist in a single statement:
// the stored score becomes max(old, new) and the status only changes when the score improves.
func UpsertProblemStatus(db *gorm.DB, status models.ProblemStatus) error {
	maxFn := "MAX"
	if isPostgres(db) {
		maxFn = "GREATEST"
	}
	improved := "excluded.score > problem_statuses.score"
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "problem_name"}, {Name: "source"}, {Name: "year"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":     gorm.Expr("CASE WHEN " + improved + " THEN excluded.status ELSE problem_statuses.status END"),
			"updated_at": gorm.Expr("CASE WHEN " + improved + " THEN excluded.updated_at ELSE problem_statuses.updated_at END"),
			"score":      gorm.Expr(maxFn + "(excluded.score, problem_statuses.score)"),
		}),
	}).Create(&status).Error
}

// SetProblemStatus overwrites the status and score, for changes the user makes by hand.
func SetProblemStatus(db *gorm.DB, status models.ProblemStatus) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "problem_name"}, {Name: "source"}, {Name: "year"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "score", "updated_at"}),
	}).Create(&status).Error
}

func GetProblemStatus(db *gorm.DB, userID, problemName, source string, year int) (*models.ProblemStatus, error) {
	var status models.ProblemStatus
	err := db.Where("user_id = ? AND problem_name = ? AND source = ? AND year = ?", userID, problemName, source, year).
		First(&status).Error
	if err != nil {
		return nil, notFound(err, "problem status not found")
	}
	return &status, nil
}

func ListProblemStatuses(db *gorm.DB, userID string) ([]models.ProblemStatus, error) {
	var statuses []models.ProblemStatus
	if err := db.Where("user_id = ?", userID).Order("source, year, problem_name").Find(&statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}

// ListProblemStatusesBySource returns the statuses of the user restricted to the given sources.
func ListProblemStatusesBySource(db *gorm.DB, userID string, sources []string) ([]models.ProblemStatus, error) {
	var statuses []models.ProblemStatus
	if err := db.Where("user_id = ? AND source IN ?", userID, sources).Find(&statuses).Error; err != nil {
		return nil, err
	}
	return statuses, nil
}

// Problems

// ListProblems returns the catalog problems of the given sources with their links.
func ListProblems(db *gorm.DB, sources []string) ([]models.Problem, error) {
	var problems []models.Problem
	err := db.Preload("Links", func(db *gorm.DB) *gorm.DB { return db.Order("platform asc") }).
		Where("source IN ?", sources).
		Order("source, year, number, extra").
		Find(&problems).Error
	if err != nil {
		return nil, err
	}
	return problems, nil
}

func FindProblem(db *gorm.DB, name, source string, year int) (*models.Problem, error) {
	var problem models.Problem
	if err := db.Where("name = ? AND source = ? AND year = ?", name, source, year).First(&problem).Error; err != nil {
		return nil, notFound(err, "problem not found")
	}
	return &problem, nil
}

// Notes

// GetProblemNote returns the note of the user on a problem, or "" when there is none.
func GetProblemNote(db *gorm.DB, userID, problemName, source string, year int) (string, error) {
	var note models.ProblemNote
	err := db.Where("user_id = ? AND problem_name = ? AND source = ? AND year = ?", userID, problemName, source, year).
		First(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return note.Note, nil
}

func SaveProblemNote(db *gorm.DB, note models.ProblemNote) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "problem_name"}, {Name: "source"}, {Name: "year"}},
		DoUpdates: clause.AssignmentColumns([]string{"note", "updated_at"}),
	}).Create(&note).Error
}
