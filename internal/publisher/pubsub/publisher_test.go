package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/politefetch/internal/publisher"
)

func TestOpenValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{Topic: "statuses"}, nil)
	require.ErrorContains(t, err, "required")
	_, err = Open(context.Background(), Config{ProjectID: "proj"}, nil)
	require.ErrorContains(t, err, "required")
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	p := New(nil)
	_, err := p.Publish(context.Background(), publisher.Message{Payload: "x"})
	require.ErrorContains(t, err, "not configured")
	require.NoError(t, p.Close())
}
