package source

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = "line1/telemetry"

// startBroker runs an in-process MQTT broker on a free loopback port.
func startBroker(t *testing.T) (*mochi.Server, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	broker := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "spray-test",
		Type:    "tcp",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { broker.Close() })
	return broker, addr
}

func TestMQTT_IngestsPublishedReadings(t *testing.T) {
	broker, addr := startBroker(t)

	// Retained so it is delivered as soon as the subscription lands.
	require.NoError(t, broker.Publish(testTopic, []byte(`{"gelcoat_pulses":1,"gelcoat_speed":30,"pressure":4}`), true, 0))

	sink := &memSink{}
	in := newIngester(sink)
	src := NewMQTT(MQTTConfig{Broker: addr, Topic: testTopic, ClientID: "spray-test-client"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, in) }()

	require.Eventually(t, func() bool { return sink.len() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, broker.Publish(testTopic, []byte("not a reading"), false, 0))
	require.NoError(t, broker.Publish(testTopic, []byte("0,2,0,31,0,0,4"), false, 0))
	require.Eventually(t, func() bool { return sink.len() == 2 }, 5*time.Second, 10*time.Millisecond)

	got := sink.snapshot()
	assert.Equal(t, 30.0, got[0].GelcoatSpeed)
	assert.Equal(t, 31.0, got[1].GelcoatSpeed)
	assert.Equal(t, int64(1), in.Stats().Rejected)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMQTT_DialFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	src := NewMQTT(MQTTConfig{Broker: addr, Topic: testTopic})
	err = src.Run(context.Background(), newIngester(&memSink{}))
	assert.ErrorContains(t, err, fmt.Sprintf("dial %s", addr))
}
