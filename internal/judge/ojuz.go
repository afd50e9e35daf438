package judge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/olytrack/olytrack/internal/config"
	"github.com/olytrack/olytrack/internal/util"
	"go.uber.org/zap"
)

var ojuzProblemRe = regexp.MustCompile(`oj\.uz/problem/view/([^/?#]+)`)

// OJUZ crawls oj.uz. Its submission list is public and paginated by a cursor:
// the id of the last row on the previous page.
type OJUZ struct {
	f *fetcher
}

func NewOJUZ(cfg config.Judge) *OJUZ {
	return &OJUZ{f: newFetcher(PlatformOJUZ, cfg)}
}

func (c *OJUZ) Platform() string { return PlatformOJUZ }

func (c *OJUZ) ProblemID(link string) (string, bool) {
	m := ojuzProblemRe.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (c *OJUZ) listPath(username, cursor string) string {
	q := url.Values{}
	q.Set("handle", username)
	if cursor != "" {
		q.Set("direction", "down")
		q.Set("id", cursor)
	}
	return "/submissions?" + q.Encode()
}

func (c *OJUZ) FetchSubmissions(ctx context.Context, window Window, targets map[string]Target, username string) ([]RawSubmission, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	var listed []listedSubmission
	seen := make(map[string]bool)
	cursor := ""
	for page := 0; page < c.f.maxPages; page++ {
		if page > 0 {
			if err := c.f.pause(ctx, c.f.pageDelay); err != nil {
				return nil, c.f.interrupted(err)
			}
		}
		doc, resp, err := c.f.document(ctx, c.listPath(username, cursor))
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(resp.Request.URL.Path, "/login") {
			return nil, fmt.Errorf("oj.uz redirected to login: %w", util.ErrInvalidCredentials)
		}

		rows := c.parseRows(doc)
		zap.S().Debugf("oj.uz: %s page %d has %d rows", username, page+1, len(rows))
		if len(rows) == 0 {
			break
		}
		var stop bool
		listed, stop = collect(rows, window, targets, seen, listed)
		if stop {
			break
		}
		last := rows[len(rows)-1].id
		if last == cursor {
			break
		}
		cursor = last
	}

	return c.f.fetchDetails(ctx, listed, func(id string) string { return "/submission/" + id }, c.parseDetail)
}

func (c *OJUZ) parseRows(doc *goquery.Document) []listedSubmission {
	var rows []listedSubmission
	doc.Find("table.table tbody tr").Each(func(_ int, tr *goquery.Selection) {
		subHref, ok := tr.Find(`a[href^="/submission/"]`).First().Attr("href")
		if !ok {
			return
		}
		probHref, ok := tr.Find(`a[href^="/problem/view/"]`).First().Attr("href")
		if !ok {
			return
		}
		iso, ok := tr.Find("span[data-timestamp-iso]").First().Attr("data-timestamp-iso")
		if !ok {
			return
		}
		at, err := time.Parse(time.RFC3339, iso)
		if err != nil {
			zap.S().Debugf("oj.uz: bad timestamp %q: %v", iso, err)
			return
		}
		rows = append(rows, listedSubmission{
			id:      strings.TrimPrefix(subHref, "/submission/"),
			problem: strings.TrimPrefix(probHref, "/problem/view/"),
			at:      at.UTC(),
		})
	})
	return rows
}

func (c *OJUZ) parseDetail(doc *goquery.Document) ([]float64, error) {
	var scores []float64
	var parseErr error
	doc.Find(`div[id^="subtask_results_div_"]`).Each(func(_ int, div *goquery.Selection) {
		text := div.Find("span.subtask-score").First().Text()
		score, err := parseFloat(text)
		if err != nil {
			parseErr = fmt.Errorf("subtask score %q: %v", text, err)
			return
		}
		scores = append(scores, score)
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(scores) == 0 {
		return nil, errors.New("no subtask results on page")
	}
	return scores, nil
}
