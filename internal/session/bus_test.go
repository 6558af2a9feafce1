package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInPublishOrder(t *testing.T) {
	bus := NewBus(4)
	require.NoError(t, bus.Start())
	defer bus.Stop()

	ch, unsub := bus.Subscribe(ChannelDefault)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Message{Channel: ChannelDefault, Data: "one"}))
	require.NoError(t, bus.Publish(ctx, Message{Channel: ChannelDefault, Data: "two"}))

	first := <-ch
	second := <-ch
	assert.Equal(t, "one", first.Data)
	assert.Equal(t, "two", second.Data)
}

func TestBusOnlyDeliversToMatchingChannel(t *testing.T) {
	bus := NewBus(4)
	require.NoError(t, bus.Start())
	defer bus.Stop()

	defaultCh, unsubDefault := bus.Subscribe(ChannelDefault)
	defer unsubDefault()
	loadingCh, unsubLoading := bus.Subscribe(ChannelLoading)
	defer unsubLoading()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Message{Channel: ChannelLoading, Data: true}))

	select {
	case msg := <-loadingCh:
		assert.Equal(t, true, msg.Data)
	case <-time.After(time.Second):
		t.Fatal("expected loading message")
	}

	select {
	case <-defaultCh:
		t.Fatal("default subscriber should not see a loading message")
	default:
	}
}

func TestBusPublishBeforeStartErrors(t *testing.T) {
	bus := NewBus(4)
	err := bus.Publish(context.Background(), Message{Channel: ChannelDefault})
	assert.Error(t, err)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(4)
	require.NoError(t, bus.Start())
	defer bus.Stop()

	ch, unsub := bus.Subscribe(ChannelDefault)
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestBusPublishBlocksOnFullBufferUntilCancel(t *testing.T) {
	bus := NewBus(1)
	require.NoError(t, bus.Start())
	defer bus.Stop()

	_, unsub := bus.Subscribe(ChannelDefault)
	defer unsub()

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, Message{Channel: ChannelDefault, Data: "fills buffer"}))

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := bus.Publish(cancelCtx, Message{Channel: ChannelDefault, Data: "blocks"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
