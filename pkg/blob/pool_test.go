package blob_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nebulaftp/pkg/blob"
	"github.com/marmos91/nebulaftp/pkg/blob/memory"
)

func TestPoolRoundRobinSend(t *testing.T) {
	a := memory.New()
	b := memory.New()
	pool := blob.NewPool(a, b)
	ctx := t.Context()

	for i := 0; i < 4; i++ {
		_, err := pool.Send(ctx, "chunks", strings.NewReader("x"), "c")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, a.Sends("c"))
	assert.Equal(t, 2, b.Sends("c"))
}

func TestPoolReadsHitPrimary(t *testing.T) {
	primary := memory.New()
	secondary := memory.New()
	pool := blob.NewPool(primary, secondary)
	ctx := t.Context()

	// First send lands on the primary.
	msg, err := pool.Send(ctx, "chunks", strings.NewReader("hello"), "c0")
	require.NoError(t, err)

	rc, err := pool.Stream(ctx, msg.BlobID, 0)
	require.NoError(t, err)
	defer rc.Close()

	// A chunk only the secondary holds is invisible to the read path.
	msg2, err := secondary.Send(ctx, "chunks", strings.NewReader("other"), "c1")
	require.NoError(t, err)
	_, err = pool.Stream(ctx, msg2.BlobID, 0)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestAsRateLimit(t *testing.T) {
	_, ok := blob.AsRateLimit(blob.ErrNotFound)
	assert.False(t, ok)

	rl, ok := blob.AsRateLimit(&blob.RateLimitError{})
	require.True(t, ok)
	assert.NotNil(t, rl)
}
