package tagger

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/xaenox/recall-bot/internal/models"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {},
	"from": {}, "about": {}, "have": {}, "will": {}, "was": {}, "are": {},
	"not": {}, "but": {}, "you": {}, "your": {}, "our": {}, "their": {},
	"has": {}, "had": {}, "they": {}, "them": {}, "then": {}, "than": {},
	"when": {}, "where": {}, "what": {}, "who": {}, "how": {}, "why": {},
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

var months = map[string]struct{}{
	"january": {}, "february": {}, "march": {}, "april": {}, "may": {},
	"june": {}, "july": {}, "august": {}, "september": {}, "october": {},
	"november": {}, "december": {},
}

var locationPrepositions = map[string]struct{}{
	"at": {}, "in": {}, "near": {},
}

// RuleTagger is the no-provider fallback: keyword tags and heuristic
// entities from plain string analysis, so enrichment still works under a
// total AI outage.
type RuleTagger struct {
	maxTags int
	now     func() time.Time
}

func NewRuleTagger(maxTags int) *RuleTagger {
	return &RuleTagger{maxTags: maxTags, now: time.Now}
}

func (t *RuleTagger) Extract(ctx context.Context, text string) ([]string, []models.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, nil
	}

	words := strings.Fields(text)
	var rawTags []string
	var entities []models.Entity
	seenEntities := make(map[string]struct{})

	sentenceStart := true
	var prevLower, prevPrevLower string

	for _, word := range words {
		// Hashtags are explicit user tags.
		if strings.HasPrefix(word, "#") {
			if tag := strings.ToLower(strings.TrimPrefix(word, "#")); tag != "" {
				rawTags = append(rawTags, tag)
			}
			sentenceStart = false
			prevPrevLower, prevLower = prevLower, ""
			continue
		}

		cleaned := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if cleaned == "" {
			sentenceStart = endsSentence(word)
			continue
		}
		lower := strings.ToLower(cleaned)

		if entity, ok := t.matchEntity(cleaned, lower, sentenceStart, prevLower, prevPrevLower); ok {
			key := string(entity.Type) + ":" + strings.ToLower(entity.Value)
			if _, seen := seenEntities[key]; !seen {
				seenEntities[key] = struct{}{}
				entities = append(entities, entity)
			}
		}

		if _, stop := stopwords[lower]; !stop && len(lower) >= 3 {
			rawTags = append(rawTags, lower)
		}

		sentenceStart = endsSentence(word)
		prevPrevLower, prevLower = prevLower, lower
	}

	return dedupeTags(rawTags, t.maxTags), entities, nil
}

func (t *RuleTagger) matchEntity(word, lower string, sentenceStart bool, prevLower, prevPrevLower string) (models.Entity, bool) {
	if wd, ok := weekdays[lower]; ok {
		return models.Entity{
			Type:       models.EntityDate,
			Value:      word,
			Normalized: nextWeekday(t.now(), wd).Format("2006-01-02"),
		}, true
	}
	if lower == "today" {
		return models.Entity{Type: models.EntityDate, Value: word, Normalized: t.now().Format("2006-01-02")}, true
	}
	if lower == "tomorrow" {
		return models.Entity{Type: models.EntityDate, Value: word, Normalized: t.now().AddDate(0, 0, 1).Format("2006-01-02")}, true
	}
	if _, ok := months[lower]; ok {
		return models.Entity{Type: models.EntityDate, Value: word}, true
	}

	// "at the office", "in Paris": preposition (+ optional article) marks a
	// location.
	_, prevIsPrep := locationPrepositions[prevLower]
	_, prevPrevIsPrep := locationPrepositions[prevPrevLower]
	if prevIsPrep || (prevLower == "the" && prevPrevIsPrep) {
		return models.Entity{Type: models.EntityLocation, Value: word, Normalized: lower}, true
	}

	// A capitalized word past the start of a sentence reads as a name.
	if !sentenceStart && unicode.IsUpper([]rune(word)[0]) {
		return models.Entity{Type: models.EntityPerson, Value: word}, true
	}

	return models.Entity{}, false
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "!") || strings.HasSuffix(word, "?")
}

// nextWeekday returns the upcoming occurrence of wd, counting today as a
// match.
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	return now.AddDate(0, 0, days)
}
