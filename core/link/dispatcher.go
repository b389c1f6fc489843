package link

import (
	"context"
	"errors"
	"time"

	"Tidelink/core/node"
	"Tidelink/logger"
	"Tidelink/model"
)

// advanceTimeout 自动播放下一首（含重新解析）的超时
const advanceTimeout = 30 * time.Second

func (c *Client) NodeConnect(n *node.Node)   { c.emit(NodeConnectEvent{Node: n}) }
func (c *Client) NodeReconnect(n *node.Node) { c.emit(NodeReconnectEvent{Node: n}) }
func (c *Client) NodeClosed(n *node.Node)    { c.emit(NodeClosedEvent{Node: n}) }

func (c *Client) NodeDisconnect(n *node.Node, code int, reason string) {
	c.emit(NodeDisconnectEvent{Node: n, Code: code, Reason: reason})
}

func (c *Client) NodeError(n *node.Node, err error) {
	c.emit(NodeErrorEvent{Node: n, Err: err})
}

// NodeEvent 把节点消息路由到对应的播放器
func (c *Client) NodeEvent(n *node.Node, msg *model.Message) {
	p, ok := c.players.Get(msg.GuildID)
	if !ok {
		logger.Debug("event for unknown player",
			logger.Node(n.Name()),
			logger.Guild(msg.GuildID),
			logger.String("op", string(msg.Op)))
		return
	}
	if p.State() == StateDestroyed {
		return
	}

	switch msg.Op {
	case model.OpPlayerUpdate:
		p.onPlayerUpdate(msg)
	case model.OpEvent:
		switch msg.Type {
		case model.EventTrackStart:
			p.onTrackStart()
		case model.EventTrackEnd:
			p.onTrackEnd(msg.Reason)
		case model.EventTrackException:
			p.onTrackException(msg)
		case model.EventTrackStuck:
			p.onTrackStuck(msg)
		case model.EventWebSocketClosed:
			p.onWebsocketClosed(msg)
		default:
			logger.Debug("ignoring unknown event type",
				logger.Node(n.Name()),
				logger.String("type", string(msg.Type)))
		}
	}
}

func (p *Player) onPlayerUpdate(msg *model.Message) {
	var state model.PlayerState
	if msg.State != nil {
		state = *msg.State
	}
	p.mu.Lock()
	p.position = state.Position
	p.mu.Unlock()
	p.client.emit(PlayerUpdateEvent{Player: p, State: state})
}

func (p *Player) onTrackStart() {
	p.mu.Lock()
	p.playing = true
	p.paused = false
	p.mu.Unlock()
	p.client.emit(TrackStartEvent{Player: p, Track: p.Queue.Current()})
}

// markStopped 异常、卡住、语音断开后的本地状态
func (p *Player) markStopped() {
	p.mu.Lock()
	p.playing = false
	p.paused = true
	p.mu.Unlock()
}

func (p *Player) onTrackException(msg *model.Message) {
	p.markStopped()
	p.client.emit(TrackExceptionEvent{
		Player:    p,
		Track:     p.Queue.Current(),
		Exception: msg.Exception,
		Raw:       msg.Raw,
	})
}

func (p *Player) onTrackStuck(msg *model.Message) {
	p.markStopped()
	p.client.emit(TrackStuckEvent{Player: p, Track: p.Queue.Current(), ThresholdMs: msg.ThresholdMs})
}

func (p *Player) onWebsocketClosed(msg *model.Message) {
	p.markStopped()
	p.client.emit(PlayerWebsocketClosedEvent{
		Player:   p,
		Code:     msg.Code,
		Reason:   msg.CloseReason,
		ByRemote: msg.ByRemote,
	})
}

// onTrackEnd 按结束原因决定是否推进队列
func (p *Player) onTrackEnd(reason model.TrackEndReason) {
	p.mu.Lock()
	selfDestroying := p.selfDestroying
	loop := p.loop
	p.playing = false
	p.paused = true
	p.mu.Unlock()

	current := p.Queue.Current()

	switch reason {
	case model.ReasonReplaced:
		p.client.emit(TrackEndEvent{Player: p, Track: current, Reason: reason})
		return

	case model.ReasonLoadFailed, model.ReasonCleanup:
		p.Queue.retire()
		if p.Queue.IsEmpty() && !selfDestroying {
			p.client.emit(QueueEmptyEvent{Player: p, Queue: p.Queue})
		}
		p.advance()
		return
	}

	if current != nil {
		switch loop {
		case LoopSong:
			p.Queue.unshift(current)
		case LoopQueue:
			p.Queue.push(current)
		}
	}
	p.Queue.retire()

	if !p.Queue.IsEmpty() {
		p.client.emit(TrackEndEvent{Player: p, Track: current, Reason: reason})
		p.advance()
		return
	}
	if !selfDestroying {
		p.client.emit(QueueEmptyEvent{Player: p, Queue: p.Queue})
	}
}

// advance 在后台播放下一首，不阻塞节点的事件流
func (p *Player) advance() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
		defer cancel()
		err := p.Play(ctx, nil, PlayOptions{})
		switch {
		case err == nil, errors.Is(err, ErrNoTrack), errors.Is(err, ErrPlayerDestroyed):
		default:
			logger.Warn("failed to play next track", logger.Guild(p.GuildID), logger.ErrorField(err))
		}
	}()
}
