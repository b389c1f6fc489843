package link

import (
	"encoding/json"
	"sync"

	"Tidelink/core/node"
	"Tidelink/model"
)

// EventKind 事件类型，取值封闭
type EventKind int

const (
	KindNodeConnect EventKind = iota
	KindNodeReconnect
	KindNodeDisconnect
	KindNodeClosed
	KindNodeError

	KindPlayerCreate
	KindPlayerDestroy
	KindPlayerUpdate
	KindPlayerPause
	KindPlayerResume
	KindPlayerStop
	KindPlayerWebsocketClosed

	KindTrackStart
	KindTrackEnd
	KindTrackStuck
	KindTrackException
	KindTrackResolveError

	KindQueueAdd
	KindQueueRemove
	KindQueueShuffle
	KindQueueClear
	KindQueueEmpty
)

var kindNames = map[EventKind]string{
	KindNodeConnect:           "nodeConnect",
	KindNodeReconnect:         "nodeReconnect",
	KindNodeDisconnect:        "nodeDisconnect",
	KindNodeClosed:            "nodeClosed",
	KindNodeError:             "nodeError",
	KindPlayerCreate:          "playerCreate",
	KindPlayerDestroy:         "playerDestroy",
	KindPlayerUpdate:          "playerUpdate",
	KindPlayerPause:           "playerPause",
	KindPlayerResume:          "playerResume",
	KindPlayerStop:            "playerStop",
	KindPlayerWebsocketClosed: "playerWebsocketClosed",
	KindTrackStart:            "trackStart",
	KindTrackEnd:              "trackEnd",
	KindTrackStuck:            "trackStuck",
	KindTrackException:        "trackException",
	KindTrackResolveError:     "trackResolveError",
	KindQueueAdd:              "queueAdd",
	KindQueueRemove:           "queueRemove",
	KindQueueShuffle:          "queueShuffle",
	KindQueueClear:            "queueClear",
	KindQueueEmpty:            "queueEmpty",
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event 对外通知，用类型断言或 switch 取出具体事件
type Event interface {
	Kind() EventKind
}

type NodeConnectEvent struct{ Node *node.Node }
type NodeReconnectEvent struct{ Node *node.Node }
type NodeClosedEvent struct{ Node *node.Node }

type NodeDisconnectEvent struct {
	Node   *node.Node
	Code   int
	Reason string
}

type NodeErrorEvent struct {
	Node *node.Node
	Err  error
}

type PlayerCreateEvent struct{ Player *Player }
type PlayerDestroyEvent struct{ Player *Player }
type PlayerStopEvent struct{ Player *Player }

type PlayerUpdateEvent struct {
	Player *Player
	State  model.PlayerState
}

type PlayerPauseEvent struct {
	Player *Player
	Track  *model.Track
}

type PlayerResumeEvent struct {
	Player *Player
	Track  *model.Track
}

// PlayerWebsocketClosedEvent 节点与语音服务器之间的连接被关闭
type PlayerWebsocketClosedEvent struct {
	Player   *Player
	Code     int
	Reason   string
	ByRemote bool
}

type TrackStartEvent struct {
	Player *Player
	Track  *model.Track
}

type TrackEndEvent struct {
	Player *Player
	Track  *model.Track
	Reason model.TrackEndReason
}

type TrackStuckEvent struct {
	Player      *Player
	Track       *model.Track
	ThresholdMs int64
}

// TrackExceptionEvent Raw 为节点发来的原始事件
type TrackExceptionEvent struct {
	Player    *Player
	Track     *model.Track
	Exception *model.Exception
	Raw       json.RawMessage
}

// TrackResolveErrorEvent 曲目在当前节点上解析失败，已被丢弃
type TrackResolveErrorEvent struct {
	Player *Player
	Track  *model.Track
	Err    error
}

type QueueAddEvent struct {
	Player *Player
	Queue  *Queue
	Tracks []*model.Track
}

type QueueRemoveEvent struct {
	Player *Player
	Queue  *Queue
	Track  *model.Track
	Index  int
}

type QueueShuffleEvent struct {
	Player *Player
	Queue  *Queue
}

type QueueClearEvent struct {
	Player *Player
	Queue  *Queue
}

type QueueEmptyEvent struct {
	Player *Player
	Queue  *Queue
}

func (NodeConnectEvent) Kind() EventKind           { return KindNodeConnect }
func (NodeReconnectEvent) Kind() EventKind         { return KindNodeReconnect }
func (NodeDisconnectEvent) Kind() EventKind        { return KindNodeDisconnect }
func (NodeClosedEvent) Kind() EventKind            { return KindNodeClosed }
func (NodeErrorEvent) Kind() EventKind             { return KindNodeError }
func (PlayerCreateEvent) Kind() EventKind          { return KindPlayerCreate }
func (PlayerDestroyEvent) Kind() EventKind         { return KindPlayerDestroy }
func (PlayerUpdateEvent) Kind() EventKind          { return KindPlayerUpdate }
func (PlayerPauseEvent) Kind() EventKind           { return KindPlayerPause }
func (PlayerResumeEvent) Kind() EventKind          { return KindPlayerResume }
func (PlayerStopEvent) Kind() EventKind            { return KindPlayerStop }
func (PlayerWebsocketClosedEvent) Kind() EventKind { return KindPlayerWebsocketClosed }
func (TrackStartEvent) Kind() EventKind            { return KindTrackStart }
func (TrackEndEvent) Kind() EventKind              { return KindTrackEnd }
func (TrackStuckEvent) Kind() EventKind            { return KindTrackStuck }
func (TrackExceptionEvent) Kind() EventKind        { return KindTrackException }
func (TrackResolveErrorEvent) Kind() EventKind     { return KindTrackResolveError }
func (QueueAddEvent) Kind() EventKind              { return KindQueueAdd }
func (QueueRemoveEvent) Kind() EventKind           { return KindQueueRemove }
func (QueueShuffleEvent) Kind() EventKind          { return KindQueueShuffle }
func (QueueClearEvent) Kind() EventKind            { return KindQueueClear }
func (QueueEmptyEvent) Kind() EventKind            { return KindQueueEmpty }

// Listener 事件回调，同步调用，不应长时间阻塞
type Listener func(Event)

// bus 按注册顺序分发事件
type bus struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
	order     []int
}

func (b *bus) on(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[int]Listener)
	}
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
		for i, existing := range b.order {
			if existing == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *bus) emit(e Event) {
	b.mu.RLock()
	fns := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}
