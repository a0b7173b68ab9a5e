package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsRecord(t *testing.T) {
	stats := NewStats()
	stats.Record(DeliveryLog{EventID: "a", EventType: EventMessageReceived, Status: DeliverySuccess, AttemptCount: 1})
	stats.Record(DeliveryLog{EventID: "b", EventType: EventMessageReceived, Status: DeliverySuccess, AttemptCount: 2})
	stats.Record(DeliveryLog{
		EventID:      "c",
		EventType:    EventSessionHalted,
		URL:          "https://hooks.example.com/bot",
		Status:       DeliveryFailed,
		AttemptCount: 3,
		LastError:    "HTTP 502",
	})

	snap := stats.Snapshot()
	assert.Equal(t, 2, snap.Delivered)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, map[string]int{"message.received": 2, "session.halted": 1}, snap.ByEvent)
	require.NotNil(t, snap.LastFailure)
	assert.Equal(t, "c", snap.LastFailure.EventID)
	assert.Equal(t, "HTTP 502", snap.LastFailure.Error)

	snap.ByEvent["message.received"] = 99
	assert.Equal(t, 2, stats.Snapshot().ByEvent["message.received"])
}
