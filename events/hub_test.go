package events_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"pkg.purge.dev/purge-engine/assert"
	"pkg.purge.dev/purge-engine/events"
	"pkg.purge.dev/purge-engine/types"
)

func TestHubQueuesUntilFlush(t *testing.T) {
	hub := events.NewHub()
	defer hub.Shutdown()

	for i := 0; i < 3; i++ {
		err := hub.Emit(events.PositionEntered{
			Kind:   events.KindPositionEntered,
			Owner:  common.BytesToAddress([]byte{byte(i + 1)}),
			Tier:   types.TierID(1),
			Amount: "1000",
		})
		assert.NilError(t, err)
	}
	assert.Equal(t, 3, hub.QueueLength())

	// No subscribers: flushing still drains the queue in order.
	hub.Flush()
	assert.Equal(t, 0, hub.QueueLength())
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestHubRejectsUnserializableEvent(t *testing.T) {
	hub := events.NewHub()
	defer hub.Shutdown()

	err := hub.Emit(make(chan int))
	assert.Assert(t, err != nil)
}
