package tagger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/recall-bot/internal/models"
)

func fixedClock() time.Time {
	// A Monday.
	return time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
}

func newFixedRuleTagger(maxTags int) *RuleTagger {
	t := NewRuleTagger(maxTags)
	t.now = fixedClock
	return t
}

func findEntity(entities []models.Entity, typ models.EntityType, value string) *models.Entity {
	for i := range entities {
		if entities[i].Type == typ && entities[i].Value == value {
			return &entities[i]
		}
	}
	return nil
}

func TestRuleTaggerLunchScenario(t *testing.T) {
	rt := newFixedRuleTagger(10)

	tags, entities, err := rt.Extract(context.Background(), "Lunch with Sarah on Friday at the office")
	require.NoError(t, err)

	assert.Contains(t, tags, "lunch")

	person := findEntity(entities, models.EntityPerson, "Sarah")
	require.NotNil(t, person)

	date := findEntity(entities, models.EntityDate, "Friday")
	require.NotNil(t, date)
	// Upcoming Friday from Monday 2024-03-04.
	assert.Equal(t, "2024-03-08", date.Normalized)

	location := findEntity(entities, models.EntityLocation, "office")
	require.NotNil(t, location)
	assert.Equal(t, "office", location.Normalized)
}

func TestRuleTaggerHashtags(t *testing.T) {
	rt := newFixedRuleTagger(10)

	tags, _, err := rt.Extract(context.Background(), "Remember this #golang #Reading")
	require.NoError(t, err)

	assert.Contains(t, tags, "golang")
	assert.Contains(t, tags, "reading")
}

func TestRuleTaggerDedupPreservesOrder(t *testing.T) {
	rt := newFixedRuleTagger(10)

	tags, _, err := rt.Extract(context.Background(), "coffee beans coffee grinder beans")
	require.NoError(t, err)

	assert.Equal(t, []string{"coffee", "beans", "grinder"}, tags)
}

func TestRuleTaggerMaxTags(t *testing.T) {
	rt := newFixedRuleTagger(2)

	tags, _, err := rt.Extract(context.Background(), "alpha bravo charlie delta")
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestRuleTaggerEmptyText(t *testing.T) {
	rt := newFixedRuleTagger(5)

	tags, entities, err := rt.Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.Empty(t, entities)
}

func TestRuleTaggerSentenceStartNotPerson(t *testing.T) {
	rt := newFixedRuleTagger(10)

	_, entities, err := rt.Extract(context.Background(), "Groceries for the week. Call Anna later")
	require.NoError(t, err)

	assert.Nil(t, findEntity(entities, models.EntityPerson, "Groceries"))
	assert.Nil(t, findEntity(entities, models.EntityPerson, "Call"))
	assert.NotNil(t, findEntity(entities, models.EntityPerson, "Anna"))
}

func TestRuleTaggerRelativeDates(t *testing.T) {
	rt := newFixedRuleTagger(10)

	_, entities, err := rt.Extract(context.Background(), "dentist appointment tomorrow")
	require.NoError(t, err)

	date := findEntity(entities, models.EntityDate, "tomorrow")
	require.NotNil(t, date)
	assert.Equal(t, "2024-03-05", date.Normalized)
}
