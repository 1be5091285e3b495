package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arlojex/tradepipe/models"
)

// These tests exercise the key-construction and TTL defaulting logic
// without a live Redis instance; round-trip behavior against a real server
// is covered by integration_test.
func TestHealthCache_KeyPrefixIsStable(t *testing.T) {
	assert.Equal(t, "tradepipe:component_status:", keyPrefix)
}

func TestHealthCache_DefaultTTLIsPositive(t *testing.T) {
	assert.Greater(t, defaultTTL.Seconds(), float64(0))
}

func TestHealthCache_ComponentStatusRoundTripsThroughString(t *testing.T) {
	for _, status := range []models.ComponentStatus{
		models.StatusStopped, models.StatusStarting, models.StatusRunning, models.StatusStopping, models.StatusError,
	} {
		assert.Equal(t, status, models.ComponentStatus(string(status)))
	}
}
