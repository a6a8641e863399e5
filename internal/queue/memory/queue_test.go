package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vinmonopol-crawler/internal/crawler"
)

func TestQueueFIFOThenClosed(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	ctx := context.Background()
	for _, id := range []crawler.ProductID{"1001", "1002", "1003"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}
	assert.Equal(t, 3, q.Len())
	q.Close()
	q.Close()

	var got []crawler.ProductID
	for {
		id, err := q.Dequeue(ctx)
		if err != nil {
			require.ErrorIs(t, err, ErrClosed)
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []crawler.ProductID{"1001", "1002", "1003"}, got)
	require.ErrorIs(t, q.Enqueue(ctx, "1004"), ErrClosed)
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.ProductID, 1)
	go func() {
		id, err := q.Dequeue(context.Background())
		if err == nil {
			result <- id
		}
	}()

	require.NoError(t, q.Enqueue(context.Background(), "2001"))
	select {
	case id := <-result:
		assert.Equal(t, crawler.ProductID("2001"), id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return the identifier")
	}
}

func TestQueueCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), "1"))
	err = full.Enqueue(ctx, "2")
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "enqueue 2")
}
