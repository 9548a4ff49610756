package crawler

import (
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/technews-ingest/internal/jalali"
	"github.com/JakeFAU/technews-ingest/internal/page"
)

// Column widths of the labels.text and records.title columns.
const (
	MaxLabelRunes = 50
	MaxTitleRunes = 255
)

// Extractor turns rendered detail pages into candidates.
type Extractor struct {
	selectors Selectors
	loc       *time.Location
}

// NewExtractor builds an Extractor. Dates are interpreted in loc.
func NewExtractor(selectors Selectors, loc *time.Location) *Extractor {
	if loc == nil {
		loc = jalali.LoadLocation(jalali.DefaultTimezone)
	}
	return &Extractor{selectors: selectors, loc: loc}
}

// Extract reads a candidate from content. A reason other than ReasonNone
// means the page must be skipped; Labels are left empty in that case.
func (e *Extractor) Extract(content *page.Content) (Candidate, UnusableReason) {
	cand := Candidate{SourceURL: content.URL()}

	title, ok := e.title(content)
	if !ok {
		return cand, ReasonMissingTitle
	}
	cand.Title = title

	body, blocks := e.body(content)
	cand.Body = body
	cand.BodyBlocks = blocks
	switch {
	case blocks == 0:
		return cand, ReasonMissingBody
	case strings.TrimSpace(body) == "":
		return cand, ReasonEmptyBody
	}

	cand.PublishedAt = e.publishedAt(content)
	cand.Labels = e.labels(content)
	return cand, ReasonNone
}

func (e *Extractor) title(content *page.Content) (string, bool) {
	nodes := content.FindAll(e.selectors.Title)
	if len(nodes) == 0 {
		return "", false
	}
	title := truncateRunes(strings.TrimSpace(nodes[0].Text()), MaxTitleRunes)
	return title, title != ""
}

func (e *Extractor) body(content *page.Content) (string, int) {
	nodes := content.FindAll(e.selectors.Body)
	if len(nodes) == 0 {
		return "", 0
	}
	blocks := make([]string, 0, len(nodes))
	for _, n := range nodes {
		blocks = append(blocks, n.Text())
	}
	return strings.Join(blocks, "\n"), len(nodes)
}

func (e *Extractor) publishedAt(content *page.Content) *time.Time {
	if e.selectors.PublishedAt == "" {
		return nil
	}
	nodes := content.FindAll(e.selectors.PublishedAt)
	if len(nodes) == 0 {
		return nil
	}
	ts, ok := ParsePublishedAt(nodes[0].Text(), e.loc)
	if !ok {
		return nil
	}
	return &ts
}

func (e *Extractor) labels(content *page.Content) []string {
	if e.selectors.Labels == "" {
		return nil
	}
	return DistinctLabels(nodeTexts(content.FindAll(e.selectors.Labels)))
}

func nodeTexts(nodes []page.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Text())
	}
	return out
}

// DistinctLabels trims, truncates and de-duplicates raw label text keeping
// first-seen order. Empty entries are dropped.
func DistinctLabels(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		text := truncateRunes(strings.TrimSpace(r), MaxLabelRunes)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

// ParsePublishedAt reads "<weekday> <day> <month-name> <year> [-] <HH:MM>" in
// the Jalali calendar, e.g. "چهارشنبه ۵ مهر ۱۴۰۲ - ۱۴:۳۰", and returns the
// moment in loc. Any missing or malformed token yields false.
func ParsePublishedAt(raw string, loc *time.Location) (time.Time, bool) {
	tokens := strings.FieldsFunc(jalali.Normalize(raw), isDateSeparator)
	monthIdx := -1
	var month jalali.Month
	for i, tok := range tokens {
		if m, ok := jalali.MonthByName(tok); ok {
			monthIdx, month = i, m
			break
		}
	}
	if monthIdx < 2 || monthIdx+2 >= len(tokens) {
		return time.Time{}, false
	}
	if _, err := strconv.Atoi(tokens[monthIdx-2]); err == nil {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(tokens[monthIdx-1])
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(tokens[monthIdx+1])
	if err != nil {
		return time.Time{}, false
	}
	hour, minute, ok := parseClock(tokens[monthIdx+2:])
	if !ok {
		return time.Time{}, false
	}
	ts, err := jalali.Date{Year: year, Month: month, Day: day}.In(hour, minute, loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func parseClock(tokens []string) (int, int, bool) {
	for _, tok := range tokens {
		hh, mm, found := strings.Cut(tok, ":")
		if !found {
			continue
		}
		if len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
			return 0, 0, false
		}
		hour, err := strconv.Atoi(hh)
		if err != nil {
			return 0, 0, false
		}
		minute, err := strconv.Atoi(mm)
		if err != nil {
			return 0, 0, false
		}
		return hour, minute, true
	}
	return 0, 0, false
}

func isDateSeparator(r rune) bool {
	switch r {
	case '-', '،', ',', '|', '/':
		return true
	}
	return unicode.IsSpace(r)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
