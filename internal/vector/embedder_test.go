package vector

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(128)

	a, err := e.EmbedText(context.Background(), "2BR apartment in Dubai Marina")
	require.NoError(t, err)
	b, err := e.EmbedText(context.Background(), "2BR apartment in Dubai Marina")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestHashEmbedderDistinctTexts(t *testing.T) {
	e := NewHashEmbedder(64)

	a, err := e.EmbedText(context.Background(), "villa on Palm Jumeirah")
	require.NoError(t, err)
	b, err := e.EmbedText(context.Background(), "studio in Business Bay")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHashEmbedderUnitNorm(t *testing.T) {
	e := NewHashEmbedder(256)

	vec, err := e.EmbedText(context.Background(), "penthouse in Downtown Dubai")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 0.001)
}

func TestHashEmbedderDefaultDimensions(t *testing.T) {
	assert.Equal(t, 128, NewHashEmbedder(0).Dimensions())
	assert.Equal(t, 384, NewHashEmbedder(384).Dimensions())
}

func TestPointIDStable(t *testing.T) {
	id1 := PointID("abc123")
	id2 := PointID("abc123")
	id3 := PointID("def456")

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.Len(t, id1, 36)
}
