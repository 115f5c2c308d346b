package scholar

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// resultSelector matches one result block in the upstream markup.
const resultSelector = "div.gs_r.gs_or.gs_scl"

var (
	yearPattern    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	citedByPattern = regexp.MustCompile(`Cited by (\d+)`)
)

// ParseResults extracts records from one page of upstream result markup.
// Blocks without a title are skipped; a page with no result blocks yields an
// empty slice, not an error.
func ParseResults(html []byte) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse result page: %w", err)
	}

	var records []Record
	doc.Find(resultSelector).Each(func(_ int, sel *goquery.Selection) {
		rec, ok := parseResult(sel)
		if ok {
			records = append(records, rec)
		}
	})
	return records, nil
}

func parseResult(sel *goquery.Selection) (Record, bool) {
	var rec Record

	title := sel.Find("h3.gs_rt")
	if title.Length() == 0 {
		return Record{}, false
	}
	if link := title.Find("a").First(); link.Length() > 0 {
		rec.Title = strings.TrimSpace(link.Text())
		rec.URL = link.AttrOr("href", "")
	} else {
		rec.Title = strings.TrimSpace(title.Text())
	}
	if rec.Title == "" {
		return Record{}, false
	}

	if byline := sel.Find("div.gs_a").First(); byline.Length() > 0 {
		applyByline(&rec, byline.Text())
	}
	if snippet := sel.Find("div.gs_rs").First(); snippet.Length() > 0 {
		rec.Abstract = strings.TrimSpace(snippet.Text())
	}
	rec.Citations = parseCitations(sel)
	return rec, true
}

// applyByline splits the "authors - venue, year - publisher" line.
func applyByline(rec *Record, text string) {
	parts := strings.Split(text, " - ")
	if len(parts) >= 1 {
		rec.Authors = strings.TrimSpace(parts[0])
	}
	if len(parts) >= 2 {
		rec.Source = strings.TrimSpace(parts[1])
		if m := yearPattern.FindString(parts[1]); m != "" {
			rec.Year, _ = strconv.Atoi(m)
		}
	}
	if len(parts) >= 3 {
		rec.Publisher = strings.TrimSpace(parts[2])
		if rec.Year == 0 {
			if m := yearPattern.FindString(parts[2]); m != "" {
				rec.Year, _ = strconv.Atoi(m)
			}
		}
	}
}

func parseCitations(sel *goquery.Selection) int {
	count := 0
	sel.Find("div.gs_fl a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		m := citedByPattern.FindStringSubmatch(link.Text())
		if m == nil {
			return true
		}
		count, _ = strconv.Atoi(m[1])
		return false
	})
	return count
}
