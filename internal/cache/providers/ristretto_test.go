package providers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ranking-cache-service/internal/config"
)

func newTestRistretto(t *testing.T) *Ristretto {
	c, err := NewRistretto(config.Ristretto{
		ProviderMeta: config.ProviderMeta{Name: "memo", Type: config.ProviderTypeRistretto},
		NumCounters:  1000,
		BufferItems:  64,
		MaxCost:      "1MB",
		DefaultTTL:   time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRistretto_PutGetDelete(t *testing.T) {
	c := newTestRistretto(t)
	ctx := context.Background()

	require.NoError(t, c.BatchPut(ctx, map[string]string{"a": "1", "b": "2"}, nil))

	got, err := c.BatchGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	require.NoError(t, c.BatchDelete(ctx, []string{"a"}))
	got, err = c.BatchGet(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, got)
}

func TestRistretto_CanceledContext(t *testing.T) {
	c := newTestRistretto(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.BatchGet(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.BatchPut(ctx, map[string]string{"a": "1"}, nil), context.Canceled)
}

func TestNewRistretto_BadMaxCost(t *testing.T) {
	_, err := NewRistretto(config.Ristretto{NumCounters: 10, BufferItems: 64, MaxCost: "oops"})
	assert.Error(t, err)
}
