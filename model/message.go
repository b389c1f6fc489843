package model

import "encoding/json"

// OpType 规范化的 websocket 操作
type OpType string

const (
	OpReady        OpType = "ready"
	OpPlayerUpdate OpType = "playerUpdate"
	OpEvent        OpType = "event"
	OpStats        OpType = "stats"
)

// EventType 规范化的 event 子类型
type EventType string

const (
	EventTrackStart      EventType = "TrackStartEvent"
	EventTrackEnd        EventType = "TrackEndEvent"
	EventTrackException  EventType = "TrackExceptionEvent"
	EventTrackStuck      EventType = "TrackStuckEvent"
	EventWebSocketClosed EventType = "WebSocketClosedEvent"
)

// TrackEndReason 曲目结束原因
type TrackEndReason string

const (
	ReasonFinished   TrackEndReason = "finished"
	ReasonLoadFailed TrackEndReason = "loadFailed"
	ReasonStopped    TrackEndReason = "stopped"
	ReasonReplaced   TrackEndReason = "replaced"
	ReasonCleanup    TrackEndReason = "cleanup"
)

// Message 驱动规范化后的 websocket 消息
//
// stats 字段用指针表示，缺失的字段保留上一次快照中的值。
type Message struct {
	Op OpType `json:"op"`

	// ready
	Resumed   bool   `json:"resumed,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// playerUpdate / event
	GuildID string       `json:"guildId,omitempty"`
	State   *PlayerState `json:"state,omitempty"`

	// event
	Type        EventType      `json:"type,omitempty"`
	Track       *RawTrack      `json:"track,omitempty"`
	Reason      TrackEndReason `json:"reason,omitempty"`
	Exception   *Exception     `json:"exception,omitempty"`
	ThresholdMs int64          `json:"thresholdMs,omitempty"`
	Code        int            `json:"code,omitempty"`
	CloseReason string         `json:"-"`
	ByRemote    bool           `json:"byRemote,omitempty"`

	// stats
	Players        *int        `json:"players,omitempty"`
	PlayingPlayers *int        `json:"playingPlayers,omitempty"`
	Uptime         *int64      `json:"uptime,omitempty"`
	Memory         *Memory     `json:"memory,omitempty"`
	CPU            *CPU        `json:"cpu,omitempty"`
	FrameStats     *FrameStats `json:"frameStats,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseMessage 解析规范化后的帧，保留原始内容
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	// websocket closed 事件的 reason 是字符串而非结束原因
	if msg.Type == EventWebSocketClosed {
		msg.CloseReason = string(msg.Reason)
		msg.Reason = ""
	}
	msg.Raw = append(json.RawMessage(nil), data...)
	return &msg, nil
}
