package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Server.GetRequestTimeout())
	assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, time.Hour, cfg.Redis.GetParticipationTTL())
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "coupon-events", cfg.Kafka.Topic)
	assert.Equal(t, "coupon-events-dlq", cfg.Kafka.DeadLetterTopic)
	assert.Equal(t, 5, cfg.Consumer.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Reconciler.GetInterval())
	assert.True(t, cfg.App.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REDIS_ADDRS", "node1:7000,node2:7000,node3:7000")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("CONSUMER_MAX_ATTEMPTS", "3")
	t.Setenv("APP_ENVIRONMENT", "production")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"node1:7000", "node2:7000", "node3:7000"}, cfg.Redis.Addrs)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Consumer.MaxAttempts)
	assert.True(t, cfg.App.IsProduction())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero publish attempts", "KAFKA_PUBLISH_ATTEMPTS", "0"},
		{"zero consumer attempts", "CONSUMER_MAX_ATTEMPTS", "0"},
		{"zero participation ttl", "REDIS_PARTICIPATION_TTL", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	cfg := DatabaseConfig{
		Host: "db", Port: "5432", User: "app", Password: "secret",
		Name: "coupon_rush", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=app password=secret dbname=coupon_rush sslmode=disable",
		cfg.GetDatabaseURL())
}
