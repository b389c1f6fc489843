// Package gateway 把 discordgo 会话接到 link.Client：发送语音状态包，转发语音事件
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"Tidelink/core/link"
	"Tidelink/logger"

	"github.com/bwmarrin/discordgo"
)

// ErrNoSession 没有可用的分片会话
var ErrNoSession = errors.New("no discord session")

// Intents 语音控制与文字指令需要的网关意图
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMessages |
	discordgo.IntentMessageContent

// VoiceHandler 接收本机器人相关的语音事件，由 link.Client 实现
type VoiceHandler interface {
	HandleVoiceServerUpdate(guildID, token, endpoint string)
	HandleVoiceStateUpdate(guildID, sessionID, channelID string, selfDeaf, selfMute bool)
}

// Discordgo 一组 discordgo 分片会话，下标即分片 id
type Discordgo struct {
	sessions []*discordgo.Session

	mu      sync.RWMutex
	handler VoiceHandler

	ready     chan struct{}
	readyOnce sync.Once
}

// New 包装已有会话并注册事件回调，会话可以尚未打开
func New(sessions ...*discordgo.Session) *Discordgo {
	d := &Discordgo{sessions: sessions, ready: make(chan struct{})}
	for _, s := range sessions {
		s.AddHandler(d.onReady)
		s.AddHandler(d.onVoiceServerUpdate)
		s.AddHandler(d.onVoiceStateUpdate)
	}
	return d
}

// Open 按分片数创建并打开会话
func Open(token string, shards int) (*Discordgo, error) {
	if shards <= 0 {
		shards = 1
	}
	sessions := make([]*discordgo.Session, 0, shards)
	for i := range shards {
		s, err := discordgo.New("Bot " + token)
		if err != nil {
			return nil, fmt.Errorf("create discord session: %w", err)
		}
		s.ShardID = i
		s.ShardCount = shards
		s.Identify.Intents = Intents
		sessions = append(sessions, s)
	}

	d := New(sessions...)
	for i, s := range sessions {
		if err := s.Open(); err != nil {
			d.Close()
			return nil, fmt.Errorf("open shard %d: %w", i, err)
		}
	}
	return d, nil
}

// Bind 设置语音事件的接收方
func (d *Discordgo) Bind(h VoiceHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// WaitReady 等待首个分片收到 Ready
func (d *Discordgo) WaitReady(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭全部分片
func (d *Discordgo) Close() error {
	var errs []error
	for _, s := range d.sessions {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// SelfID 机器人用户 id；Ready 之前为空
func (d *Discordgo) SelfID() string {
	if len(d.sessions) == 0 {
		return ""
	}
	st := d.sessions[0].State
	if st == nil {
		return ""
	}
	st.RLock()
	defer st.RUnlock()
	if st.User == nil {
		return ""
	}
	return st.User.ID
}

// ShardCount 分片总数
func (d *Discordgo) ShardCount() int {
	if len(d.sessions) == 0 {
		return 1
	}
	return max(len(d.sessions), d.sessions[0].ShardCount)
}

// SendPacket 在对应分片上发送 op 4；频道为空表示离开
func (d *Discordgo) SendPacket(shardID int, packet link.VoicePacket) error {
	s := d.session(shardID)
	if s == nil {
		return ErrNoSession
	}
	channelID := ""
	if packet.D.ChannelID != nil {
		channelID = *packet.D.ChannelID
	}
	return s.ChannelVoiceJoinManual(packet.D.GuildID, channelID, packet.D.SelfMute, packet.D.SelfDeaf)
}

// session 分片 id 超出范围时退回第一个会话
func (d *Discordgo) session(shardID int) *discordgo.Session {
	if len(d.sessions) == 0 {
		return nil
	}
	if shardID < 0 || shardID >= len(d.sessions) {
		return d.sessions[0]
	}
	return d.sessions[shardID]
}

func (d *Discordgo) voiceHandler() VoiceHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handler
}

func (d *Discordgo) onReady(s *discordgo.Session, r *discordgo.Ready) {
	logger.Info("discord ready",
		logger.String("user", r.User.ID),
		logger.Int("shard", s.ShardID),
		logger.Int("guilds", len(r.Guilds)))
	d.readyOnce.Do(func() { close(d.ready) })
}

func (d *Discordgo) onVoiceServerUpdate(_ *discordgo.Session, v *discordgo.VoiceServerUpdate) {
	h := d.voiceHandler()
	if h == nil {
		return
	}
	h.HandleVoiceServerUpdate(v.GuildID, v.Token, v.Endpoint)
}

// onVoiceStateUpdate 只转发机器人自己的语音状态
func (d *Discordgo) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || s.State == nil || s.State.User == nil || v.UserID != s.State.User.ID {
		return
	}
	h := d.voiceHandler()
	if h == nil {
		return
	}
	h.HandleVoiceStateUpdate(v.GuildID, v.SessionID, v.ChannelID, v.SelfDeaf, v.SelfMute)
}

// AddHandler 在全部分片上注册 discordgo 回调
func (d *Discordgo) AddHandler(handler any) {
	for _, s := range d.sessions {
		s.AddHandler(handler)
	}
}

// SendMessage 通过第一个分片向文字频道发送消息
func (d *Discordgo) SendMessage(channelID, content string) error {
	s := d.session(0)
	if s == nil {
		return ErrNoSession
	}
	_, err := s.ChannelMessageSend(channelID, content)
	return err
}
