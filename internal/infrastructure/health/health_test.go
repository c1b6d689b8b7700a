package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runnelsdev/copybridge/pkg/logging"
)

func TestMonitor_StatusAndHealth(t *testing.T) {
	m := NewMonitor(logging.GetGlobalLogger())
	m.Register("broker", func() error { return nil })
	m.Register("stream", func() error { return errors.New("disconnected") })

	status := m.GetStatus()
	assert.Equal(t, "healthy", status["broker"])
	assert.Equal(t, "disconnected", status["stream"])
	assert.False(t, m.IsHealthy())

	m.Register("stream", func() error { return nil })
	assert.True(t, m.IsHealthy())
}

func TestMonitor_EmptyIsHealthy(t *testing.T) {
	m := NewMonitor(logging.GetGlobalLogger())
	assert.True(t, m.IsHealthy())
	assert.Empty(t, m.GetStatus())
}
