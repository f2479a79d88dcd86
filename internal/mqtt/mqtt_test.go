package mqtt

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/penlok/helpers"
	"github.com/temoto/penlok/log2"
)

func TestSubscribePublish(t *testing.T) {
	const timeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		require.NoError(t, conn.SetDeadline(time.Now().Add(timeout)))
		b := transport.NewNetConn(conn)
		defer b.Close()

		pkt, err := b.Receive()
		require.NoError(t, err)
		connect, ok := pkt.(*packet.Connect)
		require.True(t, ok, "expected connect, got %s", pkt.String())
		assert.Equal(t, "test-kiosk", connect.ClientID)
		connack := packet.NewConnack()
		connack.ReturnCode = packet.ConnectionAccepted
		require.NoError(t, b.Send(connack, false))

		pkt, err = b.Receive()
		require.NoError(t, err)
		sub, ok := pkt.(*packet.Subscribe)
		require.True(t, ok, "expected subscribe, got %s", pkt.String())
		require.Len(t, sub.Subscriptions, 1)
		assert.Equal(t, "penlok/command", sub.Subscriptions[0].Topic)
		suback := packet.NewSuback()
		suback.ID = sub.ID
		suback.ReturnCodes = []packet.QOS{sub.Subscriptions[0].QOS}
		require.NoError(t, b.Send(suback, false))

		pub := packet.NewPublish()
		pub.Message = packet.Message{Topic: "penlok/command", Payload: []byte(`{"action":"open"}`)}
		require.NoError(t, b.Send(pub, false))

		pkt, err = b.Receive()
		require.NoError(t, err)
		up, ok := pkt.(*packet.Publish)
		require.True(t, ok, "expected publish, got %s", pkt.String())
		assert.Equal(t, "penlok/events", up.Message.Topic)
		assert.Equal(t, "event-payload", string(up.Message.Payload))
		puback := packet.NewPuback()
		puback.ID = up.ID
		require.NoError(t, b.Send(puback, false))

		// disconnect or EOF
		_, _ = b.Receive()
	}()

	log := log2.NewTest(t, log2.LDebug)
	c, err := NewClient(log, Config{Broker: fmt.Sprintf("tcp://%s", ln.Addr().String()), ClientID: "test-kiosk"})
	require.NoError(t, err)
	received := make(chan string, 1)
	c.Subscribe("penlok/command", 1, func(topic string, payload []byte) {
		received <- topic + " " + string(payload)
	})
	a := alive.NewAlive()
	c.Connect(a)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))

	select {
	case msg := <-received:
		assert.Equal(t, `penlok/command {"action":"open"}`, msg)
	case <-time.After(timeout):
		t.Fatal("message not received")
	}
	require.NoError(t, c.Publish("penlok/events", 1, []byte("event-payload")))
	a.Stop()
	c.Close()
	a.Wait()
	<-serverDone
}

func TestConnectRetry(t *testing.T) {
	const timeout = 5 * time.Second

	// reserve address, broker is down at first
	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	log := log2.NewTest(t, log2.LDebug)
	c, err := NewClient(log, Config{Broker: fmt.Sprintf("tcp://%s", addr), ClientID: "test-kiosk"})
	require.NoError(t, err)
	c.backoff = helpers.Backoff{Min: 20 * time.Millisecond, Max: 20 * time.Millisecond, K: 1}
	c.Subscribe("penlok/command", 1, func(string, []byte) {})
	a := alive.NewAlive()
	c.Connect(a)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, c.IsConnected())

	ln, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln.Close()
	subscribed := make(chan string, 1)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if !assert.NoError(t, err) {
			return
		}
		_ = conn.SetDeadline(time.Now().Add(timeout))
		b := transport.NewNetConn(conn)
		defer b.Close()

		pkt, err := b.Receive()
		if !assert.NoError(t, err) {
			return
		}
		_, ok := pkt.(*packet.Connect)
		if !assert.True(t, ok, "expected connect, got %s", pkt.String()) {
			return
		}
		connack := packet.NewConnack()
		connack.ReturnCode = packet.ConnectionAccepted
		if !assert.NoError(t, b.Send(connack, false)) {
			return
		}

		pkt, err = b.Receive()
		if !assert.NoError(t, err) {
			return
		}
		sub, ok := pkt.(*packet.Subscribe)
		if !assert.True(t, ok, "expected subscribe, got %s", pkt.String()) {
			return
		}
		suback := packet.NewSuback()
		suback.ID = sub.ID
		suback.ReturnCodes = []packet.QOS{sub.Subscriptions[0].QOS}
		_ = b.Send(suback, false)
		subscribed <- sub.Subscriptions[0].Topic

		// disconnect or EOF
		_, _ = b.Receive()
	}()

	select {
	case topic := <-subscribed:
		assert.Equal(t, "penlok/command", topic)
	case <-time.After(timeout):
		t.Fatal("subscription not restored after broker came up")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, c.WaitConnected(ctx))
	a.Stop()
	c.Close()
	a.Wait()
	<-serverDone
}

func TestPublishNotConnected(t *testing.T) {
	c, err := NewClient(log2.NewTest(t, log2.LDebug), Config{Broker: "tcp://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, ErrNotConnected, c.Publish("x", 0, nil))
}

func TestInvalidBroker(t *testing.T) {
	_, err := NewClient(log2.NewTest(t, log2.LDebug), Config{Broker: "not a url"})
	assert.Error(t, err)
}
