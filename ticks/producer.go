// Package ticks implements the Tick Publisher: it accepts raw native-broker
// callback fields, normalizes them into a Tick, and fans them out over a
// ZeroMQ publish socket for the Strategy Engine to consume.
package ticks

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arlojex/tradepipe/models"
	"github.com/arlojex/tradepipe/zmqtransport"
)

// publisher is the narrow slice of *zmqtransport.Publisher the Producer
// needs, so tests can substitute a fake without binding a real socket.
type publisher interface {
	Publish(topic string, payload []byte) error
}

// Producer wraps a bound Publisher and normalizes raw broker callback
// fields into Ticks before handoff.
type Producer struct {
	pub   publisher
	count uint64
}

// NewProducer wraps an already-bound Publisher.
func NewProducer(pub *zmqtransport.Publisher) *Producer {
	return &Producer{pub: pub}
}

// HandleTick is invoked with raw fields from a native broker callback. The
// commodity code is upper-cased and the price is parsed leniently: a
// malformed price is coerced to 0 and logged rather than rejected, since
// downstream consumers must already tolerate a zero price.
func (p *Producer) HandleTick(commodityID, matchPrice string) {
	price, err := strconv.ParseFloat(matchPrice, 64)
	if err != nil {
		log.Warn().Str("commodity_id", commodityID).Str("raw_price", matchPrice).Msg("tick producer: failed to parse match price, coercing to 0")
		price = 0
	}

	tick := models.NewTick(commodityID, price, time.Now())
	payload, err := json.Marshal(tick)
	if err != nil {
		log.Error().Err(err).Msg("tick producer: failed to marshal tick")
		return
	}

	if err := p.pub.Publish(zmqtransport.TickTopic, payload); err != nil {
		log.Error().Err(err).Msg("tick producer: publish failed")
		return
	}

	p.count++
	if p.count%100 == 0 {
		log.Info().Uint64("count", p.count).Msg("tick producer: ticks published")
	}
}
