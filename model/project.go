package model

import (
	"regexp"
	"strings"
)

const (
	minSummaryLen = 5
	maxSummaryLen = 250
)

var (
	markupTags  = regexp.MustCompile(`<[^>]+>`)
	markdownSym = regexp.MustCompile("[#*`]")
	whitespace  = regexp.MustCompile(`\s+`)
)

// Project returns the slim summary view of e: identity, ranking and counter
// fields only. Long-form text, metadata and secondary payloads are dropped.
// When the description is too short, a summary is derived from the body.
func Project(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		ID:          e.ID,
		Type:        e.Type,
		Name:        e.Name,
		Author:      e.Author,
		Slug:        e.Slug,
		Source:      e.Source,
		Description: Summary(e),
		Score:       e.Score,
		Likes:       e.Likes,
		Downloads:   e.Downloads,
		Stars:       e.Stars,
		Citations:   e.Citations,
		Percentile:  e.Percentile,
		Trend7D:     e.Trend7D,
		Tags:        e.Tags,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		Status:      e.Status,
		LastSeen:    e.LastSeen,
	}
}

// Summary returns the description, or a plain-text excerpt of the body when
// the description is shorter than five characters.
func Summary(e *Entity) string {
	if len(e.Description) >= minSummaryLen || e.Content == "" {
		return e.Description
	}
	src := e.Content
	if len(src) > 300 {
		src = src[:300]
	}
	src = markupTags.ReplaceAllString(src, " ")
	src = markdownSym.ReplaceAllString(src, "")
	src = strings.TrimSpace(whitespace.ReplaceAllString(src, " "))
	if len(src) > maxSummaryLen {
		src = strings.ToValidUTF8(src[:maxSummaryLen], "")
	}
	return src
}
