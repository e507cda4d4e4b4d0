package client

import (
	"errors"

	"github.com/goccy/go-json"
)

// reserved system topic for heartbeat frames
const SystemTopic = "phoenix"

const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventHeartbeat = "heartbeat"
)

// reserved refs. A join reply echoes "1", a leave reply echoes "2".
const (
	JoinRef  = "1"
	LeaveRef = "2"
)

// one frame per message on the channel session
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref"`
	Data    json.RawMessage `json:"data,omitempty"`
	Success *bool           `json:"success,omitempty"`
}

// replies without a success field are acknowledgments
func (self *Frame) IsSuccess() bool {
	return self.Success == nil || *self.Success
}

var emptyData = json.RawMessage(`{}`)

func NewJoinFrame(topic string) *Frame {
	return &Frame{
		Topic: topic,
		Event: EventJoin,
		Ref:   JoinRef,
		Data:  emptyData,
	}
}

func NewLeaveFrame(topic string) *Frame {
	return &Frame{
		Topic: topic,
		Event: EventLeave,
		Ref:   LeaveRef,
		Data:  emptyData,
	}
}

func NewHeartbeatFrame() *Frame {
	return &Frame{
		Topic: SystemTopic,
		Event: EventHeartbeat,
		Ref:   JoinRef,
		Data:  emptyData,
	}
}

func EncodeFrame(frame *Frame) ([]byte, error) {
	return json.Marshal(frame)
}

func DecodeFrame(frameBytes []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(frameBytes, frame); err != nil {
		return nil, err
	}
	if frame.Event == "" {
		return nil, errors.New("frame missing event")
	}
	return frame, nil
}
