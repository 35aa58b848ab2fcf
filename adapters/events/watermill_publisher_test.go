package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/gatekeeper/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveOne(t *testing.T, messages <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-messages:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestWatermillPublisher(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	logouts, err := pubSub.Subscribe(ctx, TopicLogout)
	require.NoError(t, err)
	relays, err := pubSub.Subscribe(ctx, TopicRelaySubmitted)
	require.NoError(t, err)

	pub := NewWatermillPublisher(pubSub)

	require.NoError(t, pub.PublishLogout(ctx, "0xdead", 8453))
	var logout LogoutEvent
	require.NoError(t, json.Unmarshal(receiveOne(t, logouts).Payload, &logout))
	assert.Equal(t, LogoutEvent{Address: "0xdead", ChainID: 8453}, logout)

	event := ports.RelaySubmitted{Author: "0xdead", Submitter: "0xbeef", ChainID: 84532, TxHash: "0x01"}
	require.NoError(t, pub.PublishRelaySubmitted(ctx, event))
	var relayed ports.RelaySubmitted
	require.NoError(t, json.Unmarshal(receiveOne(t, relays).Payload, &relayed))
	assert.Equal(t, event, relayed)
}
