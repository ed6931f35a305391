package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_URL(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantVhost string
	}{
		{name: "root vhost", cfg: Config{Host: "mq", Port: 5672, User: "escrow", Password: "p@ss:word", VHost: "/"}, wantVhost: "/"},
		{name: "empty vhost", cfg: Config{Host: "mq", Port: 5673, User: "escrow", Password: "secret"}, wantVhost: "/"},
		{name: "named vhost", cfg: Config{Host: "mq", Port: 5672, User: "escrow", Password: "secret", VHost: "/escrow"}, wantVhost: "escrow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uri, err := amqp.ParseURI(tt.cfg.URL())
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Host, uri.Host)
			assert.Equal(t, tt.cfg.Port, uri.Port)
			assert.Equal(t, tt.cfg.User, uri.Username)
			assert.Equal(t, tt.cfg.Password, uri.Password)
			assert.Equal(t, tt.wantVhost, uri.Vhost)
		})
	}
}

func TestQueueArgs(t *testing.T) {
	assert.Nil(t, queueArgs("escrow", QueueConfig{Name: "escrow_dead_letters"}))

	args := queueArgs("escrow", QueueConfig{Name: "arbitration_requests", DeadLetterRoutingKey: "escrow_dead_letters"})
	assert.Equal(t, amqp.Table{
		"x-dead-letter-exchange":    "escrow",
		"x-dead-letter-routing-key": "escrow_dead_letters",
	}, args)
}

func TestPublishDelays(t *testing.T) {
	tests := []struct {
		name    string
		retries int
		base    time.Duration
		mult    float64
		want    []time.Duration
	}{
		{name: "configured", retries: 3, base: time.Second, mult: 2, want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{name: "defaults", want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}},
		{name: "constant", retries: 2, base: 50 * time.Millisecond, mult: 1, want: []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, publishDelays(tt.retries, tt.base, tt.mult))
		})
	}
}
