package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTick_UppercasesCommodityID(t *testing.T) {
	tick := NewTick("txf202503", 18000, time.Now())
	assert.Equal(t, "TXF202503", tick.CommodityID)
}

func TestTick_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Round(time.Microsecond)
	tick := NewTick("TXF", 18000.5, now)

	data, err := json.Marshal(tick)
	require.NoError(t, err)

	var parsed Tick
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, tick.CommodityID, parsed.CommodityID)
	assert.Equal(t, tick.MatchPrice, parsed.MatchPrice)
	assert.True(t, tick.ObservedAt.Equal(parsed.ObservedAt))
}
