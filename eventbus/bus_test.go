package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	var got []uint64
	Subscribe(b, func(e FrameStart) { got = append(got, e.Frame) })

	Publish(b, FrameStart{Frame: 1})
	Publish(b, FrameEnd{Frame: 1})
	Publish(b, FrameStart{Frame: 2})

	require.Equal(t, []uint64{1, 2}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	count := 0
	id := Subscribe(b, func(e FrameStart) { count++ })
	Publish(b, FrameStart{Frame: 1})
	b.Unsubscribe(id)
	Publish(b, FrameStart{Frame: 2})
	require.Equal(t, 1, count)
}
