package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifierStoresMessages(t *testing.T) {
	t.Parallel()

	n := New()
	id1, err := n.Publish(context.Background(), "runs", map[string]int{"end_offset": 10})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := n.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := n.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "runs", msgs[0].Topic)
	assert.Equal(t, "audit", msgs[1].Topic)

	msgs[0].Topic = "modified"
	assert.Equal(t, "runs", n.Messages()[0].Topic, "Messages returns a copy")
}

func TestNotifierFailWith(t *testing.T) {
	t.Parallel()

	n := New()
	boom := errors.New("bus down")
	n.FailWith(boom)
	_, err := n.Publish(context.Background(), "runs", nil)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, n.Messages())

	n.FailWith(nil)
	_, err = n.Publish(context.Background(), "runs", nil)
	require.NoError(t, err)
}
