package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/go-playground/assert/v2"
)

// in-memory transport
type testConn struct {
	inbound  chan []byte
	outbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newTestConn() *testConn {
	return &testConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (self *testConn) ReadMessage() ([]byte, error) {
	select {
	case frameBytes := <-self.inbound:
		return frameBytes, nil
	case <-self.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (self *testConn) WriteMessage(frameBytes []byte) error {
	select {
	case self.outbound <- frameBytes:
		return nil
	case <-self.closed:
		return errors.New("use of closed connection")
	}
}

func (self *testConn) Close() error {
	self.closeOnce.Do(func() {
		close(self.closed)
	})
	return nil
}

func (self *testConn) push(t *testing.T, frame *Frame) {
	frameBytes, err := EncodeFrame(frame)
	assert.Equal(t, nil, err)
	self.inbound <- frameBytes
}

func (self *testConn) nextFrame(t *testing.T) *Frame {
	select {
	case frameBytes := <-self.outbound:
		frame, err := DecodeFrame(frameBytes)
		assert.Equal(t, nil, err)
		return frame
	case <-time.After(time.Second):
		t.Fatal("no outbound frame")
		return nil
	}
}

func (self *testConn) assertNoFrame(t *testing.T) {
	select {
	case frameBytes := <-self.outbound:
		t.Fatalf("unexpected outbound frame: %s", string(frameBytes))
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, condition func() bool) {
	end := time.Now().Add(time.Second)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never reached")
}

func newTestSession(messageHandler MessageHandler) (*ChannelSessionManager, *testConn) {
	conn := newTestConn()
	settings := DefaultChannelSessionSettings()
	// keep heartbeats out of the frame assertions
	settings.HeartbeatInterval = time.Hour
	settings.Dial = func(ctx context.Context, url string) (ChannelConn, error) {
		return conn, nil
	}
	session := NewChannelSessionManager(context.Background(), "ws://test", messageHandler, nil, settings)
	return session, conn
}

func TestJoinQueuedBeforeConnect(t *testing.T) {
	session, conn := newTestSession(nil)
	defer session.Close()

	assert.Equal(t, nil, session.JoinChannel("tokens:n1"))
	// idempotent while pending
	assert.Equal(t, nil, session.JoinChannel("tokens:n1"))
	assert.Equal(t, []string{"tokens:n1"}, session.PendingJoinTopics())

	assert.Equal(t, nil, session.Connect(context.Background()))
	assert.Equal(t, ConnectionStateConnected, session.State())

	joinFrame := conn.nextFrame(t)
	assert.Equal(t, "tokens:n1", joinFrame.Topic)
	assert.Equal(t, EventJoin, joinFrame.Event)
	assert.Equal(t, JoinRef, joinFrame.Ref)
	conn.assertNoFrame(t)
}

func TestConnectWhileConnected(t *testing.T) {
	session, _ := newTestSession(nil)
	defer session.Close()

	assert.Equal(t, nil, session.Connect(context.Background()))
	assert.Equal(t, ErrNotDisconnected, session.Connect(context.Background()))
}

func TestJoinAck(t *testing.T) {
	session, conn := newTestSession(nil)
	defer session.Close()

	session.Connect(context.Background())
	session.JoinChannel("tokens:n1")
	conn.nextFrame(t)

	conn.push(t, &Frame{Topic: "tokens:n1", Event: EventJoin, Ref: JoinRef})
	waitFor(t, func() bool {
		return len(session.JoinedTopics()) == 1
	})
	assert.Equal(t, []string{"tokens:n1"}, session.JoinedTopics())
	assert.Equal(t, []string{}, session.PendingJoinTopics())
}

func TestJoinRejectedStaysPending(t *testing.T) {
	routed := make(chan string, 1)
	session, conn := newTestSession(func(topic string, event string, data json.RawMessage) {
		routed <- event
	})
	defer session.Close()

	session.Connect(context.Background())
	session.JoinChannel("tokens:n1")
	conn.nextFrame(t)

	rejected := false
	conn.push(t, &Frame{Topic: "tokens:n1", Event: EventJoin, Ref: JoinRef, Success: &rejected})

	// the reject routes before the marker frame
	conn.push(t, &Frame{Topic: "tokens:n1", Event: "marker", Data: emptyData})
	assert.Equal(t, "marker", <-routed)

	assert.Equal(t, []string{"tokens:n1"}, session.PendingJoinTopics())
	assert.Equal(t, []string{}, session.JoinedTopics())
}

func TestHeartbeatReplyIsNotAJoinAck(t *testing.T) {
	routed := make(chan string, 1)
	session, conn := newTestSession(func(topic string, event string, data json.RawMessage) {
		routed <- event
	})
	defer session.Close()

	session.Connect(context.Background())
	session.JoinChannel("tokens:n1")
	conn.nextFrame(t)

	// heartbeat replies reuse ref "1" on the system topic
	conn.push(t, &Frame{Topic: SystemTopic, Event: EventHeartbeat, Ref: JoinRef})
	conn.push(t, &Frame{Topic: "tokens:n1", Event: "marker", Data: emptyData})
	assert.Equal(t, "marker", <-routed)

	assert.Equal(t, []string{"tokens:n1"}, session.PendingJoinTopics())
	assert.Equal(t, []string{}, session.JoinedTopics())
}

func TestLeaveAck(t *testing.T) {
	session, conn := newTestSession(nil)
	defer session.Close()

	session.Connect(context.Background())
	session.JoinChannel("tokens:n1")
	conn.nextFrame(t)
	conn.push(t, &Frame{Topic: "tokens:n1", Event: EventJoin, Ref: JoinRef})
	waitFor(t, func() bool {
		return len(session.JoinedTopics()) == 1
	})

	// a leave request changes nothing locally until the ack
	assert.Equal(t, nil, session.LeaveChannel("tokens:n1"))
	leaveFrame := conn.nextFrame(t)
	assert.Equal(t, EventLeave, leaveFrame.Event)
	assert.Equal(t, LeaveRef, leaveFrame.Ref)
	assert.Equal(t, []string{"tokens:n1"}, session.JoinedTopics())

	conn.push(t, &Frame{Topic: "tokens:n1", Event: EventLeave, Ref: LeaveRef})
	waitFor(t, func() bool {
		return len(session.JoinedTopics()) == 0
	})
	assert.Equal(t, []string{}, session.PendingJoinTopics())
}

func TestMessageHandlerDispatch(t *testing.T) {
	type received struct {
		topic string
		event string
		data  json.RawMessage
	}
	messages := make(chan received, 1)
	session, conn := newTestSession(func(topic string, event string, data json.RawMessage) {
		messages <- received{topic: topic, event: event, data: data}
	})
	defer session.Close()

	session.Connect(context.Background())
	conn.push(t, &Frame{
		Topic: "tokens:n1",
		Event: PushEventEntitiesUpdated,
		Data:  json.RawMessage(`{"entity":"tokens","entities":[{"id":"a"}]}`),
	})

	select {
	case message := <-messages:
		assert.Equal(t, "tokens:n1", message.topic)
		assert.Equal(t, PushEventEntitiesUpdated, message.event)
		assert.NotEqual(t, 0, len(message.data))
	case <-time.After(time.Second):
		t.Fatal("message handler not called")
	}
}

func TestMalformedFrameDoesNotDropConnection(t *testing.T) {
	messages := make(chan string, 2)
	session, conn := newTestSession(func(topic string, event string, data json.RawMessage) {
		messages <- event
	})
	defer session.Close()

	session.Connect(context.Background())
	conn.inbound <- []byte(`{"not json`)
	conn.inbound <- []byte(`{"topic":"t","ref":""}`)
	conn.push(t, &Frame{Topic: "tokens:n1", Event: "still_alive", Data: emptyData})

	select {
	case event := <-messages:
		assert.Equal(t, "still_alive", event)
	case <-time.After(time.Second):
		t.Fatal("session did not survive malformed frames")
	}
	assert.Equal(t, ConnectionStateConnected, session.State())
}

func TestHeartbeat(t *testing.T) {
	conn := newTestConn()
	settings := DefaultChannelSessionSettings()
	settings.HeartbeatInterval = 10 * time.Millisecond
	settings.Dial = func(ctx context.Context, url string) (ChannelConn, error) {
		return conn, nil
	}
	session := NewChannelSessionManager(context.Background(), "ws://test", nil, nil, settings)
	defer session.Close()

	session.Connect(context.Background())

	heartbeatFrame := conn.nextFrame(t)
	assert.Equal(t, SystemTopic, heartbeatFrame.Topic)
	assert.Equal(t, EventHeartbeat, heartbeatFrame.Event)
}

func TestTransportCloseNotifiesListeners(t *testing.T) {
	session, conn := newTestSession(nil)
	defer session.Close()

	disconnects := make(chan error, 1)
	session.AddDisconnectListener(func(err error) {
		disconnects <- err
	})

	session.Connect(context.Background())
	session.JoinChannel("tokens:n1")
	conn.nextFrame(t)
	conn.push(t, &Frame{Topic: "tokens:n1", Event: EventJoin, Ref: JoinRef})
	waitFor(t, func() bool {
		return len(session.JoinedTopics()) == 1
	})

	conn.Close()

	select {
	case err := <-disconnects:
		assert.NotEqual(t, nil, err)
	case <-time.After(time.Second):
		t.Fatal("disconnect listener not called")
	}
	assert.Equal(t, ConnectionStateDisconnected, session.State())
	// joined topics are left stale, there is no automatic rejoin
	assert.Equal(t, []string{"tokens:n1"}, session.JoinedTopics())
}

func TestExplicitDisconnectIsSilent(t *testing.T) {
	session, _ := newTestSession(nil)
	defer session.Close()

	disconnects := make(chan error, 1)
	session.AddDisconnectListener(func(err error) {
		disconnects <- err
	})

	session.Connect(context.Background())
	session.Disconnect()
	assert.Equal(t, ConnectionStateDisconnected, session.State())

	select {
	case <-disconnects:
		t.Fatal("explicit disconnect must not notify")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPendingJoinResentOnReconnect(t *testing.T) {
	dialCount := 0
	conns := []*testConn{newTestConn(), newTestConn()}
	settings := DefaultChannelSessionSettings()
	settings.HeartbeatInterval = time.Hour
	settings.Dial = func(ctx context.Context, url string) (ChannelConn, error) {
		conn := conns[dialCount]
		dialCount += 1
		return conn, nil
	}
	session := NewChannelSessionManager(context.Background(), "ws://test", nil, nil, settings)
	defer session.Close()

	session.JoinChannel("tokens:n1")
	session.Connect(context.Background())
	conns[0].nextFrame(t)

	// the join was never acknowledged and the transport drops
	conns[0].Close()
	waitFor(t, func() bool {
		return session.State() == ConnectionStateDisconnected
	})

	assert.Equal(t, nil, session.Connect(context.Background()))
	joinFrame := conns[1].nextFrame(t)
	assert.Equal(t, "tokens:n1", joinFrame.Topic)
	assert.Equal(t, EventJoin, joinFrame.Event)
}
