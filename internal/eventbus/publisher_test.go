package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublisher_NilClientNeverPanics(t *testing.T) {
	p := New(nil, zap.NewNop())
	assert.NotPanics(t, func() {
		p.PublishTrack(context.Background(), TrackEvent{Rid: "r1", OccurredAt: time.Now()})
		p.PublishCallback(context.Background(), CallbackEvent{Rid: "r1", OccurredAt: time.Now()})
	})
}
