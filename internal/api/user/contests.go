package user

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/olytrack/olytrack/internal/database"
	"github.com/olytrack/olytrack/internal/database/models"
	"github.com/olytrack/olytrack/internal/util"
	"github.com/olytrack/olytrack/internal/virtual"
)

type contestView struct {
	models.Contest
	Stage *string `json:"stage"`
	Key   string  `json:"key"`
	Slug  string  `json:"slug"`
}

type contestProblemView struct {
	Index   int                  `json:"index"`
	Name    string               `json:"name"`
	Source  string               `json:"source"`
	Year    int                  `json:"year"`
	Number  int                  `json:"number"`
	Links   []models.ProblemLink `json:"links"`
	Missing bool                 `json:"missing,omitempty"`
}

func newContestView(c models.Contest) contestView {
	ref := c.Ref()
	return contestView{Contest: c, Stage: ref.StagePtr(), Key: ref.Key(), Slug: virtual.Slug(ref)}
}

func (h *Handler) getContests(c *gin.Context) {
	contests, err := database.ListContests(h.db.WithContext(c.Request.Context()))
	if err != nil {
		util.Fail(c, err)
		return
	}
	views := make([]contestView, 0, len(contests))
	for _, contest := range contests {
		views = append(views, newContestView(contest))
	}
	util.Success(c, views, "ok")
}

func (h *Handler) getContest(c *gin.Context) {
	db := h.db.WithContext(c.Request.Context())
	contests, err := database.ListContests(db)
	if err != nil {
		util.Fail(c, err)
		return
	}
	slug := c.Param("slug")
	for _, contest := range contests {
		if virtual.Slug(contest.Ref()) != slug {
			continue
		}
		entries, err := database.GetContestProblems(db, contest.Ref())
		if err != nil {
			util.Fail(c, err)
			return
		}
		problems := make([]contestProblemView, 0, len(entries))
		for _, e := range entries {
			pv := contestProblemView{Index: e.Index, Links: []models.ProblemLink{}}
			if e.Problem == nil {
				pv.Missing = true
			} else {
				pv.Name, pv.Source, pv.Year, pv.Number = e.Problem.Name, e.Problem.Source, e.Problem.Year, e.Problem.Number
				pv.Links = e.Problem.Links
			}
			problems = append(problems, pv)
		}
		util.Success(c, gin.H{"contest": newContestView(contest), "problems": problems}, "ok")
		return
	}
	util.Fail(c, fmt.Errorf("contest %q not found: %w", slug, util.ErrNotFound))
}
