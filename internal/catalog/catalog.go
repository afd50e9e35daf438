// Package catalog reads contest definitions from YAML files and imports them
// into the database.
package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Contest is one contest file. Problems are listed in contest order; a
// problem without source or year inherits the contest's.
type Contest struct {
	Name            string    `yaml:"name"`
	Stage           string    `yaml:"stage"`
	Source          string    `yaml:"source"`
	Year            int       `yaml:"year"`
	DurationMinutes int       `yaml:"duration_minutes"`
	Location        string    `yaml:"location"`
	Website         string    `yaml:"website"`
	Link            string    `yaml:"link"`
	Date            string    `yaml:"date"`
	Notes           string    `yaml:"notes"`
	Problems        []Problem `yaml:"problems"`

	path string
}

type Problem struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Year   int    `yaml:"year"`
	Number int    `yaml:"number"`
	Extra  string `yaml:"extra"`
	// Links maps a judge platform to the problem URL on it.
	Links map[string]string `yaml:"links"`
}

func (c Contest) Ref() models.ContestRef {
	return models.ContestRef{Name: c.Name, Stage: c.Stage}
}

type Stats struct {
	Contests int
	Problems int
	Links    int
}

// LoadDir reads every .yaml and .yml file below root, in path order.
func LoadDir(root string) ([]Contest, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory '%s': %w", root, err)
	}
	sort.Strings(paths)

	contests := make([]Contest, 0, len(paths))
	seen := make(map[models.ContestRef]string)
	for _, path := range paths {
		contest, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[contest.Ref()]; ok {
			return nil, fmt.Errorf("contest %q defined in both %s and %s: %w", contest.Ref(), prev, path, util.ErrConflict)
		}
		seen[contest.Ref()] = path
		contests = append(contests, *contest)
	}
	return contests, nil
}

func loadFile(path string) (*Contest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var contest Contest
	if err := yaml.Unmarshal(data, &contest); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	contest.path = path
	if err := contest.normalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &contest, nil
}

func (c *Contest) normalize() error {
	c.Name = strings.TrimSpace(c.Name)
	c.Stage = strings.TrimSpace(c.Stage)
	if c.Name == "" {
		return fmt.Errorf("missing contest name: %w", util.ErrValidation)
	}
	if c.Source == "" || c.Year == 0 {
		return fmt.Errorf("contest %q needs a source and a year: %w", c.Ref(), util.ErrValidation)
	}
	if c.DurationMinutes <= 0 {
		return fmt.Errorf("contest %q needs a positive duration: %w", c.Ref(), util.ErrValidation)
	}
	for i := range c.Problems {
		p := &c.Problems[i]
		if p.Source == "" {
			p.Source = c.Source
		}
		if p.Year == 0 {
			p.Year = c.Year
		}
		if p.Name == "" || p.Number <= 0 {
			return fmt.Errorf("contest %q problem %d needs a name and a positive number: %w", c.Ref(), i+1, util.ErrValidation)
		}
	}
	return nil
}

// Import upserts the contests, their problems and links in one transaction.
// A contest's problem list is replaced by the one in its file.
func Import(ctx context.Context, db *gorm.DB, contests []Contest) (*Stats, error) {
	stats := &Stats{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range contests {
			if err := importContest(tx, c, stats); err != nil {
				return fmt.Errorf("import %s: %w", c.path, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infof("imported %d contests, %d problems, %d links", stats.Contests, stats.Problems, stats.Links)
	return stats, nil
}

func importContest(tx *gorm.DB, c Contest, stats *Stats) error {
	row := models.Contest{
		Name:            c.Name,
		Stage:           c.Stage,
		Source:          c.Source,
		Year:            c.Year,
		DurationMinutes: c.DurationMinutes,
		Location:        c.Location,
		Website:         c.Website,
		Link:            c.Link,
		Date:            c.Date,
		Notes:           c.Notes,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"source", "year", "duration_minutes", "location", "website", "link", "date", "notes"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}
	stats.Contests++

	if err := tx.Where("contest_name = ? AND contest_stage = ?", c.Name, c.Stage).Delete(&models.ContestProblem{}).Error; err != nil {
		return err
	}
	for i, p := range c.Problems {
		problem := models.Problem{Name: p.Name, Source: p.Source, Year: p.Year, Number: p.Number, Extra: p.Extra}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "year"}, {Name: "number"}, {Name: "extra"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&problem).Error
		if err != nil {
			return err
		}
		// the upsert does not report the id of an existing row on every driver
		var stored models.Problem
		if err := tx.Where("source = ? AND year = ? AND number = ? AND extra = ?", p.Source, p.Year, p.Number, p.Extra).
			First(&stored).Error; err != nil {
			return err
		}
		stats.Problems++

		for _, platform := range sortedKeys(p.Links) {
			link := models.ProblemLink{ProblemID: stored.ID, Platform: platform, URL: p.Links[platform]}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "problem_id"}, {Name: "platform"}},
				DoUpdates: clause.AssignmentColumns([]string{"url"}),
			}).Create(&link).Error
			if err != nil {
				return err
			}
			stats.Links++
		}

		cp := models.ContestProblem{
			ContestName:   c.Name,
			ContestStage:  c.Stage,
			ProblemIndex:  i + 1,
			ProblemSource: p.Source,
			ProblemYear:   p.Year,
			ProblemNumber: p.Number,
			ProblemExtra:  p.Extra,
		}
		if err := tx.Create(&cp).Error; err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
