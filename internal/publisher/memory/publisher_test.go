package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, lead.TopicDiscovered, lead.Event{Identity: "acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, lead.TopicContacted, lead.Event{Identity: "acme.com", TemplateID: "initial_contact"})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, lead.TopicDiscovered, msgs[0].Topic)
	assert.Equal(t, "memory-2", msgs[1].ID)

	msgs[0].Topic = "modified"
	assert.Equal(t, lead.TopicDiscovered, pub.Messages()[0].Topic, "Messages returns a copy")

	contacted := pub.Topic(lead.TopicContacted)
	require.Len(t, contacted, 1)
	assert.Equal(t, "initial_contact", contacted[0].(lead.Event).TemplateID)
	assert.Empty(t, pub.Topic("unknown"))
}

func TestPublisherConcurrent(t *testing.T) {
	t.Parallel()
	pub := New()
	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pub.Publish(context.Background(), lead.TopicDiscovered, "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, pub.Messages(), 25)
}

func TestPublisherCanceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, lead.TopicDiscovered, "x")
	require.ErrorIs(t, err, context.Canceled)
}
