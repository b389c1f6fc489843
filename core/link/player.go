package link

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"Tidelink/core/node"
	"Tidelink/driver"
	"Tidelink/logger"
	"Tidelink/model"
)

var (
	ErrPlayerDestroyed   = errors.New("player destroyed")
	ErrNoTrack           = errors.New("no track available")
	ErrNoCurrentTrack    = errors.New("no track is playing")
	ErrNoPrevious        = errors.New("no previous track")
	ErrNotSeekable       = errors.New("current track is not seekable")
	ErrInvalidVolume     = errors.New("volume must be between 0 and 1000")
	ErrNoVoiceChannel    = errors.New("no voice channel")
	ErrVoiceTimeout      = errors.New("voice connection timed out")
	ErrSessionIDMissing  = errors.New("voice session id missing")
	ErrEndpointMissing   = errors.New("voice endpoint missing")
	ErrLyricsUnsupported = errors.New("node driver does not support lyrics")
)

const maxVolume = 1000

// State 播放器生命周期
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDestroyed:
		return "destroyed"
	default:
		return "disconnected"
	}
}

// VoiceState 语音握手状态
type VoiceState int

const (
	VoiceDisconnected VoiceState = iota
	VoiceConnecting
	VoiceConnected
)

func (s VoiceState) String() string {
	switch s {
	case VoiceConnecting:
		return "connecting"
	case VoiceConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// LoopMode 循环模式
type LoopMode string

const (
	LoopNone  LoopMode = "none"
	LoopSong  LoopMode = "song"
	LoopQueue LoopMode = "queue"
)

type voiceSignal int

const (
	signalReady voiceSignal = iota
	signalSessionIDMissing
	signalEndpointMissing
)

// PlayOptions 播放参数
type PlayOptions struct {
	// ReplaceCurrent 为 false 时，被替换的当前曲目放回待播队首
	ReplaceCurrent bool
	NoReplace      bool
	Position       *int64
	EndTime        *int64
	Paused         *bool
}

// Player 一个服务器（guild）的播放器
type Player struct {
	GuildID string
	Queue   *Queue
	Filter  *Filter

	client  *Client
	node    *node.Node
	shardID int

	mu             sync.RWMutex
	voiceID        string
	textID         string
	paused         bool
	playing        bool
	volume         int
	position       int64
	loop           LoopMode
	mute           bool
	deaf           bool
	state          State
	voiceState     VoiceState
	track          string
	sessionID      string
	server         *model.VoiceServer
	region         string
	selfDestroying bool

	destroyed    chan struct{}
	closeOnce    sync.Once
	voiceSignals chan voiceSignal
}

func newPlayer(c *Client, n *node.Node, opts CreateOptions) *Player {
	volume := opts.Volume
	if volume <= 0 {
		volume = c.opts.DefaultVolume
	}
	p := &Player{
		GuildID:      opts.GuildID,
		client:       c,
		node:         n,
		shardID:      shardFor(opts.GuildID, c.library.ShardCount()),
		voiceID:      opts.VoiceID,
		textID:       opts.TextID,
		paused:       true,
		volume:       volume,
		loop:         LoopNone,
		mute:         opts.Mute,
		deaf:         opts.Deaf,
		state:        StateDisconnected,
		voiceState:   VoiceDisconnected,
		destroyed:    make(chan struct{}),
		voiceSignals: make(chan voiceSignal, 1),
	}
	p.Queue = newQueue(p, c.opts.HistoryLimit)
	p.Filter = newFilter(p)
	return p
}

// shardFor 按 Discord 的 (guild_id >> 22) % num_shards 计算分片
func shardFor(guildID string, shards int) int {
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil || shards <= 1 {
		return 0
	}
	return int((id >> 22) % uint64(shards))
}

// regionOf 取 endpoint 第一段并去掉数字，如 us-east1234.discord.media -> us-east
func regionOf(endpoint string) string {
	label, _, _ := strings.Cut(endpoint, ".")
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return -1
		}
		return r
	}, label)
}

func (p *Player) Node() *node.Node { return p.node }

func (p *Player) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Player) VoiceState() VoiceState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voiceState
}

func (p *Player) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

func (p *Player) Playing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.playing
}

func (p *Player) Volume() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.volume
}

// Position 最近一次上报或设置的播放位置（毫秒）
func (p *Player) Position() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

func (p *Player) Loop() LoopMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loop
}

func (p *Player) VoiceID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.voiceID
}

func (p *Player) TextID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.textID
}

// Region 语音服务器区域
func (p *Player) Region() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.region
}

// Track 当前下发给节点的 encoded
func (p *Player) Track() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.track
}

func (p *Player) Mute() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mute
}

func (p *Player) Deaf() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deaf
}

func (p *Player) checkDestroyed() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == StateDestroyed {
		return ErrPlayerDestroyed
	}
	return nil
}

func (p *Player) update(ctx context.Context, opts model.UpdatePlayerOptions, noReplace bool) error {
	_, err := p.node.Rest().UpdatePlayer(ctx, model.UpdatePlayerInfo{
		GuildID:   p.GuildID,
		Options:   opts,
		NoReplace: noReplace,
	})
	return err
}

// Send 直接下发一次播放器更新
func (p *Player) Send(ctx context.Context, opts model.UpdatePlayerOptions, noReplace bool) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	return p.update(ctx, opts, noReplace)
}

// voicePacket 调用方需持有锁；channelID 为空表示离开
func (p *Player) voicePacket(channelID string) VoicePacket {
	data := VoiceStateData{GuildID: p.GuildID, SelfMute: p.mute, SelfDeaf: p.deaf}
	if channelID != "" {
		data.ChannelID = &channelID
	}
	return VoicePacket{Op: 4, D: data}
}

func (p *Player) signal(s voiceSignal) {
	select {
	case p.voiceSignals <- s:
	default:
	}
}

func (p *Player) drainSignals() {
	for {
		select {
		case <-p.voiceSignals:
		default:
			return
		}
	}
}

// Connect 加入语音频道并等待网关下发语音服务器信息
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if p.voiceID == "" {
		p.mu.Unlock()
		return ErrNoVoiceChannel
	}
	if p.voiceState != VoiceDisconnected {
		p.mu.Unlock()
		return nil
	}
	p.voiceState = VoiceConnecting
	p.drainSignals()
	packet := p.voicePacket(p.voiceID)
	p.mu.Unlock()

	if err := p.client.library.SendPacket(p.shardID, packet); err != nil {
		p.failVoice()
		return fmt.Errorf("send voice state: %w", err)
	}

	timer := time.NewTimer(p.client.opts.VoiceConnectionTimeout)
	defer timer.Stop()

	select {
	case s := <-p.voiceSignals:
		switch s {
		case signalSessionIDMissing:
			p.failVoice()
			return ErrSessionIDMissing
		case signalEndpointMissing:
			p.failVoice()
			return ErrEndpointMissing
		}
	case <-timer.C:
		p.failVoice()
		return ErrVoiceTimeout
	case <-ctx.Done():
		p.failVoice()
		return ctx.Err()
	case <-p.destroyed:
		return ErrPlayerDestroyed
	}

	p.mu.Lock()
	p.voiceState = VoiceConnected
	p.state = StateConnected
	region := p.region
	p.mu.Unlock()

	logger.Debug("voice connected", logger.Guild(p.GuildID), logger.String("region", region))
	return nil
}

func (p *Player) failVoice() {
	p.mu.Lock()
	p.voiceState = VoiceDisconnected
	p.mu.Unlock()
}

// setStateUpdate 网关下发的 bot 语音状态
func (p *Player) setStateUpdate(sessionID, channelID string, selfDeaf, selfMute bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
	p.deaf = selfDeaf
	p.mute = selfMute
	if channelID == "" {
		if p.voiceState == VoiceConnected {
			p.voiceState = VoiceDisconnected
		}
		return
	}
	p.voiceID = channelID
}

// setServerUpdate 网关下发的语音服务器；已连接时直接转发给节点
func (p *Player) setServerUpdate(token, endpoint string) {
	if endpoint == "" {
		p.signal(signalEndpointMissing)
		return
	}

	p.mu.Lock()
	if p.sessionID == "" {
		p.mu.Unlock()
		p.signal(signalSessionIDMissing)
		return
	}
	p.server = &model.VoiceServer{Token: token, Endpoint: endpoint}
	previous := p.region
	p.region = regionOf(endpoint)
	live := p.voiceState == VoiceConnected
	p.mu.Unlock()

	p.signal(signalReady)
	if !live {
		return
	}
	if previous != regionOf(endpoint) {
		logger.Info("voice region changed",
			logger.Guild(p.GuildID),
			logger.String("from", previous),
			logger.String("to", regionOf(endpoint)))
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.sendServerUpdate(ctx); err != nil {
			logger.Warn("failed to forward voice server update", logger.Guild(p.GuildID), logger.ErrorField(err))
		}
	}()
}

// sendServerUpdate 把语音凭据交给节点
func (p *Player) sendServerUpdate(ctx context.Context) error {
	p.mu.RLock()
	if p.server == nil {
		p.mu.RUnlock()
		return ErrEndpointMissing
	}
	voice := *p.server
	voice.SessionID = p.sessionID
	p.mu.RUnlock()

	return p.update(ctx, model.UpdatePlayerOptions{Voice: &voice}, false)
}

// Play 播放指定曲目，或在 track 为 nil 时播放当前/下一首
func (p *Player) Play(ctx context.Context, track *model.Track, opts PlayOptions) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}

	if track != nil {
		if current := p.Queue.Current(); current != nil && !opts.ReplaceCurrent {
			p.Queue.unshift(current)
		}
		p.Queue.setCurrent(track)
	} else if p.Queue.Current() == nil {
		next := p.Queue.shift()
		if next == nil {
			return ErrNoTrack
		}
		p.Queue.setCurrent(next)
	}

	for {
		current := p.Queue.Current()
		err := p.client.resolveTrack(ctx, p.node, current, false)
		if err == nil {
			return p.start(ctx, current, opts)
		}
		if ctx.Err() != nil || errors.Is(err, driver.ErrSessionNotReady) {
			return err
		}

		logger.Warn("track resolution failed",
			logger.Guild(p.GuildID),
			logger.String("title", current.Title),
			logger.ErrorField(err))
		p.client.emit(TrackResolveErrorEvent{Player: p, Track: current, Err: err})

		next := p.Queue.shift()
		p.Queue.setCurrent(next)
		if next == nil {
			p.client.emit(QueueEmptyEvent{Player: p, Queue: p.Queue})
			return err
		}
	}
}

func (p *Player) start(ctx context.Context, t *model.Track, opts PlayOptions) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	volume := p.volume
	p.track = t.Encoded
	p.playing = true
	p.paused = false
	if opts.Paused != nil {
		p.paused = *opts.Paused
		p.playing = !p.paused
	}
	p.position = 0
	if opts.Position != nil {
		p.position = *opts.Position
	}
	p.mu.Unlock()

	return p.update(ctx, model.UpdatePlayerOptions{
		Track: &model.UpdatePlayerTrack{
			Encoded: model.Ptr(t.Encoded),
			Length:  model.Ptr(t.Duration),
		},
		Position: opts.Position,
		EndTime:  opts.EndTime,
		Volume:   &volume,
		Paused:   opts.Paused,
	}, opts.NoReplace)
}

// Pause 已暂停时不发送任何命令
func (p *Player) Pause(ctx context.Context) error {
	return p.SetPause(ctx, true)
}

// Resume 未暂停时不发送任何命令
func (p *Player) Resume(ctx context.Context) error {
	return p.SetPause(ctx, false)
}

func (p *Player) SetPause(ctx context.Context, paused bool) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if p.paused == paused {
		p.mu.Unlock()
		return nil
	}
	wasPlaying := p.playing
	p.paused = paused
	p.playing = !paused
	p.mu.Unlock()

	if err := p.update(ctx, model.UpdatePlayerOptions{Paused: model.Ptr(paused)}, false); err != nil {
		p.mu.Lock()
		p.paused = !paused
		p.playing = wasPlaying
		p.mu.Unlock()
		return err
	}

	if paused {
		p.client.emit(PlayerPauseEvent{Player: p, Track: p.Queue.Current()})
	} else {
		p.client.emit(PlayerResumeEvent{Player: p, Track: p.Queue.Current()})
	}
	return nil
}

// Seek 位置会被限制在 [0, duration] 内
func (p *Player) Seek(ctx context.Context, position int64) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	current := p.Queue.Current()
	if current == nil {
		return ErrNoCurrentTrack
	}
	if !current.IsSeekable {
		return ErrNotSeekable
	}
	position = max(0, min(position, current.Duration))

	if err := p.update(ctx, model.UpdatePlayerOptions{Position: &position}, false); err != nil {
		return err
	}
	p.mu.Lock()
	p.position = position
	p.mu.Unlock()
	return nil
}

func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	if volume < 0 || volume > maxVolume {
		return fmt.Errorf("%w: got %d", ErrInvalidVolume, volume)
	}
	if err := p.update(ctx, model.UpdatePlayerOptions{Volume: &volume}, false); err != nil {
		return err
	}
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

// Skip 停止当前曲目，由随后的 track end 事件推进队列
func (p *Player) Skip(ctx context.Context) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	return p.update(ctx, model.UpdatePlayerOptions{Track: &model.UpdatePlayerTrack{}}, false)
}

// Previous 重新播放最近一首历史曲目
func (p *Player) Previous(ctx context.Context) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	prev := p.Queue.popPrevious()
	if prev == nil {
		return ErrNoPrevious
	}
	return p.Play(ctx, prev, PlayOptions{})
}

// Stop destroy 为 true 时等同于 Destroy
func (p *Player) Stop(ctx context.Context, destroy bool) error {
	if destroy {
		return p.Destroy(ctx)
	}
	if err := p.Clear(false); err != nil {
		return err
	}
	if err := p.update(ctx, model.UpdatePlayerOptions{Track: &model.UpdatePlayerTrack{}}, false); err != nil {
		return err
	}
	p.client.emit(PlayerStopEvent{Player: p})
	return nil
}

// Clear 重置循环、队列、音量和播放标记
func (p *Player) Clear(emitEmpty bool) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	p.loop = LoopNone
	p.volume = p.client.opts.DefaultVolume
	p.paused = true
	p.playing = false
	p.track = ""
	p.position = 0
	p.mu.Unlock()

	p.Queue.Clear()
	p.Queue.reset()
	if emitEmpty {
		p.client.emit(QueueEmptyEvent{Player: p, Queue: p.Queue})
	}
	return nil
}

// Destroy 销毁播放器；只会执行一次，之后的调用返回 ErrPlayerDestroyed
func (p *Player) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	if p.selfDestroying {
		p.mu.Unlock()
		return nil
	}
	p.selfDestroying = true
	playing := p.playing
	p.mu.Unlock()

	if playing {
		stop := model.UpdatePlayerOptions{Track: &model.UpdatePlayerTrack{Length: model.Ptr[int64](0)}}
		if err := p.update(ctx, stop, false); err != nil {
			logger.Warn("failed to stop track before destroy", logger.Guild(p.GuildID), logger.ErrorField(err))
		}
	}
	_ = p.Clear(false)
	if err := p.leaveVoice(); err != nil {
		logger.Warn("failed to leave voice channel", logger.Guild(p.GuildID), logger.ErrorField(err))
	}
	if err := p.node.Rest().DestroyPlayer(ctx, p.GuildID); err != nil {
		logger.Warn("failed to destroy remote player", logger.Guild(p.GuildID), logger.ErrorField(err))
	}
	p.client.players.remove(p)

	p.markDestroyed()

	logger.Info("player destroyed", logger.Guild(p.GuildID), logger.Node(p.node.Name()))
	p.client.emit(PlayerDestroyEvent{Player: p})
	return nil
}

func (p *Player) markDestroyed() {
	p.mu.Lock()
	p.state = StateDestroyed
	p.selfDestroying = false
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.destroyed) })
}

// Disconnect 暂停并离开语音频道，播放器保留
func (p *Player) Disconnect(ctx context.Context) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	if p.VoiceState() == VoiceDisconnected && p.State() == StateDisconnected {
		return nil
	}
	if err := p.Pause(ctx); err != nil {
		logger.Warn("failed to pause before disconnect", logger.Guild(p.GuildID), logger.ErrorField(err))
	}
	return p.leaveVoice()
}

func (p *Player) leaveVoice() error {
	p.mu.Lock()
	p.voiceState = VoiceDisconnected
	p.state = StateDisconnected
	packet := p.voicePacket("")
	p.mu.Unlock()
	return p.client.library.SendPacket(p.shardID, packet)
}

func (p *Player) SetLoop(mode LoopMode) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	p.mu.Lock()
	p.loop = mode
	p.mu.Unlock()
	return nil
}

func (p *Player) SetTextChannel(id string) error {
	if err := p.checkDestroyed(); err != nil {
		return err
	}
	p.mu.Lock()
	p.textID = id
	p.mu.Unlock()
	return nil
}

// SetVoiceChannel 离开当前频道后加入新频道，并把新的语音凭据交给节点
func (p *Player) SetVoiceChannel(ctx context.Context, id string) error {
	if err := p.Disconnect(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.voiceID = id
	p.mu.Unlock()
	if err := p.Connect(ctx); err != nil {
		return err
	}
	return p.sendServerUpdate(ctx)
}

func (p *Player) SetMute(mute bool) error {
	return p.setVoiceFlags(func() { p.mute = mute })
}

func (p *Player) SetDeaf(deaf bool) error {
	return p.setVoiceFlags(func() { p.deaf = deaf })
}

func (p *Player) setVoiceFlags(apply func()) error {
	p.mu.Lock()
	if p.state == StateDestroyed {
		p.mu.Unlock()
		return ErrPlayerDestroyed
	}
	apply()
	if p.voiceID == "" || p.voiceState == VoiceDisconnected {
		p.mu.Unlock()
		return nil
	}
	packet := p.voicePacket(p.voiceID)
	p.mu.Unlock()
	return p.client.library.SendPacket(p.shardID, packet)
}

// Lyrics 当前曲目的歌词，需要节点方言支持
func (p *Player) Lyrics(ctx context.Context, language string) ([]byte, error) {
	if err := p.checkDestroyed(); err != nil {
		return nil, err
	}
	loader, ok := p.node.Driver().(driver.LyricsLoader)
	if !ok {
		return nil, ErrLyricsUnsupported
	}
	current := p.Queue.Current()
	if current == nil {
		return nil, ErrNoCurrentTrack
	}
	return loader.LoadLyrics(ctx, current.Encoded, language)
}
