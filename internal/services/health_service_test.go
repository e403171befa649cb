package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"pmaxtools/internal/config"
)

type fakeHub struct{ clients int }

func (f fakeHub) ClientCount() int { return f.clients }

func TestHealthService(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, config.Default().Batch)

	t.Run("ready", func(t *testing.T) {
		hs := NewHealthService("1.2.3", "2026-01-01", svc, fakeHub{clients: 2}, testLogger())

		assert.Equal(t, "ok", hs.HealthCheck(ctx).Status)

		ready := hs.ReadinessCheck(ctx)
		assert.Equal(t, "ready", ready.Status)
		ws := ready.Services["websocket"].(ServiceHealth)
		assert.Equal(t, 2, ws.Details["clients"])

		live := hs.LivenessCheck(ctx)
		assert.Equal(t, "alive", live.Status)
		assert.Contains(t, live.Runtime, "goroutines")

		v := hs.Version()
		assert.Equal(t, "1.2.3", v["version"])
		assert.Equal(t, "2026-01-01", v["build_time"])
	})

	t.Run("not ready", func(t *testing.T) {
		hs := NewHealthService("dev", "", nil, nil, testLogger())
		assert.Equal(t, "not_ready", hs.ReadinessCheck(ctx).Status)
		assert.NotContains(t, hs.Version(), "build_time")
	})
}
