package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

func TestEncode(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	event := lead.DiscoveredEvent(lead.Lead{
		ID:          "0190b2a4-0000-7000-8000-000000000001",
		Identity:    "acme-textiles.com",
		CompanyName: "Acme Textiles",
		Source:      lead.SourceEuropages,
	}, at)

	msg, err := encode(lead.TopicDiscovered, event)
	require.NoError(t, err)
	assert.Equal(t, lead.TopicDiscovered, msg.Attributes[EventTypeAttribute])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "lead.discovered", decoded["type"])
	assert.Equal(t, "acme-textiles.com", decoded["identity"])
	assert.Equal(t, "directory-europages", decoded["source"])
	assert.NotContains(t, decoded, "template_id")
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	t.Parallel()
	_, err := encode(lead.TopicContacted, make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()
	_, err := New(nil).Publish(context.Background(), lead.TopicDiscovered, lead.Event{})
	require.ErrorContains(t, err, "not configured")
}
