package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresProjectAndTopic(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "", "batches")
	require.Error(t, err)
	_, err = New(context.Background(), "proj", "")
	require.Error(t, err)
}

func TestUnconfiguredPublisher(t *testing.T) {
	t.Parallel()

	var p *Publisher
	_, err := p.Publish(context.Background(), "batches", map[string]int{"a": 1})
	require.Error(t, err)
	require.NoError(t, p.Close())
}
