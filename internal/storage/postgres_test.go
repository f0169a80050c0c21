package storage

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The tags and embedding columns are NOT NULL, so nil slices must bind as
// empty arrays rather than SQL NULL.
func TestNilTagsBindAsEmptyArray(t *testing.T) {
	value, err := pq.Array(nonNilTags(nil)).Value()
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "{}", value)
}

func TestNilEmbeddingBindsAsEmptyArray(t *testing.T) {
	value, err := pq.Array(embeddingToFloat64(nil)).Value()
	require.NoError(t, err)
	require.NotNil(t, value)
	assert.Equal(t, "{}", value)
}
