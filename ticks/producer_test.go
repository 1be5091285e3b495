package ticks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlojex/tradepipe/models"
	"github.com/arlojex/tradepipe/zmqtransport"
)

type fakePublisher struct {
	topic   string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.topic = topic
	f.payload = payload
	return f.err
}

func TestProducer_HandleTick_NormalizesAndPublishes(t *testing.T) {
	fp := &fakePublisher{}
	p := &Producer{pub: fp}

	p.HandleTick("txf", "18500.5")

	require.Equal(t, zmqtransport.TickTopic, fp.topic)
	var tick models.Tick
	require.NoError(t, json.Unmarshal(fp.payload, &tick))
	assert.Equal(t, "TXF", tick.CommodityID)
	assert.Equal(t, 18500.5, tick.MatchPrice)
	assert.False(t, tick.ObservedAt.IsZero())
}

func TestProducer_HandleTick_CoercesUnparsablePriceToZero(t *testing.T) {
	fp := &fakePublisher{}
	p := &Producer{pub: fp}

	p.HandleTick("mtx", "not-a-number")

	var tick models.Tick
	require.NoError(t, json.Unmarshal(fp.payload, &tick))
	assert.Equal(t, "MTX", tick.CommodityID)
	assert.Equal(t, 0.0, tick.MatchPrice)
}

func TestProducer_HandleTick_PublishErrorDoesNotPanic(t *testing.T) {
	fp := &fakePublisher{err: assert.AnError}
	p := &Producer{pub: fp}

	assert.NotPanics(t, func() {
		p.HandleTick("txf", "100")
	})
}
