package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Empty(t, cfg.Brokers)
	assert.False(t, cfg.Enabled())
	assert.Equal(t, "depot.notifications.processed", cfg.Topic)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
}

func TestLoadConfig_ParsesBrokerList(t *testing.T) {
	t.Setenv("DEPOT_KAFKA_BROKERS", "broker-1:9092, broker-2:9092 ,,broker-3:9092")
	t.Setenv("DEPOT_KAFKA_TOPIC", "custom.topic")

	cfg := LoadConfig()

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092", "broker-3:9092"}, cfg.Brokers)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "custom.topic", cfg.Topic)
}
