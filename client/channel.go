package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type ConnectionState int

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnecting
)

func (self ConnectionState) String() string {
	switch self {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

var ErrNotDisconnected = errors.New("session is not disconnected")

// one text frame per message
type ChannelConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(frameBytes []byte) error
	Close() error
}

type ChannelDialFunc func(ctx context.Context, url string) (ChannelConn, error)

type wsChannelConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (self *wsChannelConn) ReadMessage() ([]byte, error) {
	for {
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage:
			return message, nil
		default:
			// not part of the frame protocol
			glog.V(2).Infof("[ch]other message type=%d\n", messageType)
		}
	}
}

func (self *wsChannelConn) WriteMessage(frameBytes []byte) error {
	self.ws.SetWriteDeadline(time.Now().Add(self.writeTimeout))
	return self.ws.WriteMessage(websocket.TextMessage, frameBytes)
}

func (self *wsChannelConn) Close() error {
	return self.ws.Close()
}

func newWsDial(handshakeTimeout time.Duration, writeTimeout time.Duration) ChannelDialFunc {
	return func(ctx context.Context, url string) (ChannelConn, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		}
		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsChannelConn{
			ws:           ws,
			writeTimeout: writeTimeout,
		}, nil
	}
}

type MessageHandler func(topic string, event string, data json.RawMessage)

type DisconnectListener func(err error)

type ChannelSessionSettings struct {
	HeartbeatInterval  time.Duration
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	// nil uses the websocket dialer
	Dial ChannelDialFunc
}

func DefaultChannelSessionSettings() *ChannelSessionSettings {
	return &ChannelSessionSettings{
		HeartbeatInterval:  5 * time.Second,
		WsHandshakeTimeout: 5 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

// ChannelSessionManager owns one persistent connection and the join/leave
// protocol for logical topics. Joins requested before the connection exists
// are queued and sent on the next successful connect. Joined topics are not
// rejoined automatically after a disconnect; only pending joins are re-sent
// on the next Connect.
type ChannelSessionManager struct {
	ctx    context.Context
	cancel context.CancelFunc

	url            string
	messageHandler MessageHandler
	metrics        *Metrics
	settings       *ChannelSessionSettings
	dial           ChannelDialFunc

	stateLock         sync.Mutex
	state             ConnectionState
	conn              ChannelConn
	connCancel        context.CancelFunc
	pendingJoinTopics map[string]bool
	joinedTopics      map[string]bool

	disconnectListeners *callbackList[DisconnectListener]
}

func NewChannelSessionManagerWithDefaults(
	ctx context.Context,
	url string,
	messageHandler MessageHandler,
) *ChannelSessionManager {
	return NewChannelSessionManager(ctx, url, messageHandler, nil, DefaultChannelSessionSettings())
}

func NewChannelSessionManager(
	ctx context.Context,
	url string,
	messageHandler MessageHandler,
	metrics *Metrics,
	settings *ChannelSessionSettings,
) *ChannelSessionManager {
	cancelCtx, cancel := context.WithCancel(ctx)

	dial := settings.Dial
	if dial == nil {
		dial = newWsDial(settings.WsHandshakeTimeout, settings.WriteTimeout)
	}

	return &ChannelSessionManager{
		ctx:                 cancelCtx,
		cancel:              cancel,
		url:                 url,
		messageHandler:      messageHandler,
		metrics:             metrics,
		settings:            settings,
		dial:                dial,
		state:               ConnectionStateDisconnected,
		pendingJoinTopics:   map[string]bool{},
		joinedTopics:        map[string]bool{},
		disconnectListeners: newCallbackList[DisconnectListener](),
	}
}

func (self *ChannelSessionManager) State() ConnectionState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *ChannelSessionManager) PendingJoinTopics() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	topics := maps.Keys(self.pendingJoinTopics)
	slices.Sort(topics)
	return topics
}

func (self *ChannelSessionManager) JoinedTopics() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	topics := maps.Keys(self.joinedTopics)
	slices.Sort(topics)
	return topics
}

func (self *ChannelSessionManager) AddDisconnectListener(disconnectListener DisconnectListener) func() {
	return self.disconnectListeners.add(disconnectListener)
}

// Connect opens the transport and returns once it is open. Every pending join
// topic is (re-)sent a join request immediately after the connection opens.
func (self *ChannelSessionManager) Connect(ctx context.Context) error {
	self.stateLock.Lock()
	if self.state != ConnectionStateDisconnected {
		self.stateLock.Unlock()
		return ErrNotDisconnected
	}
	self.state = ConnectionStateConnecting
	self.stateLock.Unlock()

	conn, err := self.dial(ctx, self.url)
	if err != nil {
		self.stateLock.Lock()
		self.state = ConnectionStateDisconnected
		self.stateLock.Unlock()
		glog.Infof("[ch]connect error = %s\n", err)
		return err
	}

	connCtx, connCancel := context.WithCancel(self.ctx)

	self.stateLock.Lock()
	self.conn = conn
	self.connCancel = connCancel
	self.state = ConnectionStateConnected
	pendingTopics := maps.Keys(self.pendingJoinTopics)
	self.stateLock.Unlock()

	slices.Sort(pendingTopics)

	self.metrics.countConnect()
	glog.V(1).Infof("[ch]connected %s\n", self.url)

	go self.readLoop(connCtx, conn)
	go self.heartbeatLoop(connCtx, conn)

	// joins queued before the connection existed
	for _, topic := range pendingTopics {
		if err := self.sendFrame(conn, NewJoinFrame(topic)); err != nil {
			glog.Infof("[ch]join %s error = %s\n", topic, err)
		}
	}
	return nil
}

// JoinChannel is idempotent: a topic already pending is not re-queued and no
// second join request is sent. If not connected the join is only queued.
func (self *ChannelSessionManager) JoinChannel(topic string) error {
	self.stateLock.Lock()
	if self.pendingJoinTopics[topic] {
		self.stateLock.Unlock()
		return nil
	}
	self.pendingJoinTopics[topic] = true
	connected := self.state == ConnectionStateConnected
	conn := self.conn
	self.stateLock.Unlock()

	if !connected {
		glog.V(1).Infof("[ch]join queued %s\n", topic)
		return nil
	}
	return self.sendFrame(conn, NewJoinFrame(topic))
}

// LeaveChannel sends a leave request. Local topic sets only change when the
// leave acknowledgment arrives.
func (self *ChannelSessionManager) LeaveChannel(topic string) error {
	self.stateLock.Lock()
	connected := self.state == ConnectionStateConnected
	conn := self.conn
	self.stateLock.Unlock()

	if !connected {
		return fmt.Errorf("leave %s: session is not connected", topic)
	}
	return self.sendFrame(conn, NewLeaveFrame(topic))
}

// Disconnect tears the session down. Disconnect listeners are not notified
// for an explicit disconnect.
func (self *ChannelSessionManager) Disconnect() {
	self.stateLock.Lock()
	if self.state != ConnectionStateConnected {
		self.stateLock.Unlock()
		return
	}
	self.state = ConnectionStateDisconnecting
	conn := self.conn
	connCancel := self.connCancel
	self.conn = nil
	self.connCancel = nil
	self.stateLock.Unlock()

	connCancel()
	conn.Close()

	self.stateLock.Lock()
	self.state = ConnectionStateDisconnected
	self.stateLock.Unlock()

	self.metrics.countDisconnect()
}

func (self *ChannelSessionManager) Close() {
	self.Disconnect()
	self.cancel()
}

func (self *ChannelSessionManager) sendFrame(conn ChannelConn, frame *Frame) error {
	frameBytes, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	glog.V(2).Infof("[ch]-> %s %s\n", frame.Topic, frame.Event)
	return conn.WriteMessage(frameBytes)
}

func (self *ChannelSessionManager) readLoop(connCtx context.Context, conn ChannelConn) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		frameBytes, err := conn.ReadMessage()
		if err != nil {
			self.handleTransportClose(err)
			return
		}

		frame, err := DecodeFrame(frameBytes)
		if err != nil {
			// a malformed frame must not drop the connection
			glog.Infof("[ch]drop malformed frame = %s\n", err)
			continue
		}
		self.routeFrame(frame)
	}
}

func (self *ChannelSessionManager) routeFrame(frame *Frame) {
	if frame.Topic == SystemTopic {
		// heartbeat replies
		glog.V(2).Infof("[ch]<- %s %s\n", frame.Topic, frame.Event)
		return
	}

	switch frame.Ref {
	case JoinRef:
		if !frame.IsSuccess() {
			// the topic stays pending. It is retried only on the next full
			// reconnect, not on a timer.
			glog.Infof("[ch]join %s rejected\n", frame.Topic)
			return
		}
		self.stateLock.Lock()
		delete(self.pendingJoinTopics, frame.Topic)
		self.joinedTopics[frame.Topic] = true
		self.stateLock.Unlock()
		glog.V(1).Infof("[ch]joined %s\n", frame.Topic)
	case LeaveRef:
		self.stateLock.Lock()
		delete(self.pendingJoinTopics, frame.Topic)
		delete(self.joinedTopics, frame.Topic)
		self.stateLock.Unlock()
		glog.V(1).Infof("[ch]left %s\n", frame.Topic)
	default:
		self.metrics.countPushFrame()
		if self.messageHandler != nil {
			self.messageHandler(frame.Topic, frame.Event, frame.Data)
		}
	}
}

// keeps intermediary infrastructure from closing an idle connection.
// heartbeats are not acknowledgment-tracked.
func (self *ChannelSessionManager) heartbeatLoop(connCtx context.Context, conn ChannelConn) {
	ticker := time.NewTicker(self.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			if err := self.sendFrame(conn, NewHeartbeatFrame()); err != nil {
				glog.Infof("[ch]heartbeat error = %s\n", err)
				return
			}
		}
	}
}

// transport closed underneath the session. Joined topics become stale; they
// are not rejoined automatically.
func (self *ChannelSessionManager) handleTransportClose(err error) {
	self.stateLock.Lock()
	if self.state != ConnectionStateConnected {
		// explicit disconnect in progress
		self.stateLock.Unlock()
		return
	}
	self.state = ConnectionStateDisconnected
	conn := self.conn
	connCancel := self.connCancel
	self.conn = nil
	self.connCancel = nil
	self.stateLock.Unlock()

	if connCancel != nil {
		connCancel()
	}
	if conn != nil {
		conn.Close()
	}

	self.metrics.countDisconnect()
	glog.Infof("[ch]transport closed = %s\n", err)

	for _, disconnectListener := range self.disconnectListeners.get() {
		disconnectListener(err)
	}
}
