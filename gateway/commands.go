package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Tidelink/core/link"
	"Tidelink/logger"

	"github.com/bwmarrin/discordgo"
)

// ErrNotInVoice 发起播放的用户不在语音频道
var ErrNotInVoice = errors.New("join a voice channel first")

const commandTimeout = 30 * time.Second

// Request 一条已解析的文字指令
type Request struct {
	GuildID   string
	TextID    string
	VoiceID   string // 发起人所在的语音频道，可能为空
	Requester string
	Name      string
	Args      []string
}

// Commands 前缀文字指令，驱动 link.Client 上的播放器
type Commands struct {
	Prefix string
	// Engine play 指令使用的搜索引擎，为空时使用客户端默认引擎
	Engine string
	client *link.Client
}

// NewCommands 创建指令处理器，prefix 为空时使用 "!"
func NewCommands(client *link.Client, prefix string) *Commands {
	if prefix == "" {
		prefix = "!"
	}
	return &Commands{Prefix: prefix, client: client}
}

// parseCommand 拆出指令名和参数；不是指令时 ok 为 false
func parseCommand(prefix, content string) (name string, args []string, ok bool) {
	if !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// HandleMessage discordgo 的 MessageCreate 回调
func (c *Commands) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	name, args, ok := parseCommand(c.Prefix, m.Content)
	if !ok {
		return
	}

	req := Request{
		GuildID:   m.GuildID,
		TextID:    m.ChannelID,
		Requester: m.Author.ID,
		Name:      name,
		Args:      args,
	}
	if vs, err := s.State.VoiceState(m.GuildID, m.Author.ID); err == nil {
		req.VoiceID = vs.ChannelID
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		reply, err := c.Execute(ctx, req)
		if err != nil {
			logger.Debug("command failed",
				logger.Guild(req.GuildID),
				logger.String("command", req.Name),
				logger.ErrorField(err))
			reply = "Error: " + err.Error()
		}
		if reply == "" {
			return
		}
		if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
			logger.Warn("failed to send reply", logger.Guild(req.GuildID), logger.ErrorField(err))
		}
	}()
}

// Execute 执行一条指令，返回回复文本
func (c *Commands) Execute(ctx context.Context, req Request) (string, error) {
	if req.Name == "play" {
		return c.play(ctx, req)
	}

	p, ok := c.client.Players().Get(req.GuildID)
	if !ok {
		if req.Name == "help" {
			return c.help(), nil
		}
		return "Nothing is playing.", nil
	}

	switch req.Name {
	case "pause":
		return "Paused.", p.Pause(ctx)
	case "resume":
		return "Resumed.", p.Resume(ctx)
	case "skip":
		if p.Queue.Current() == nil {
			return "Nothing to skip.", nil
		}
		return "Skipped.", p.Skip(ctx)
	case "previous":
		return "Playing the previous track.", p.Previous(ctx)
	case "stop":
		return "Stopped and cleared the queue.", p.Stop(ctx, false)
	case "leave":
		return "Bye.", p.Destroy(ctx)
	case "shuffle":
		p.Queue.Shuffle()
		return "Queue shuffled.", nil
	case "loop":
		return c.loop(p, req.Args)
	case "volume":
		return c.volume(ctx, p, req.Args)
	case "seek":
		return c.seek(ctx, p, req.Args)
	case "remove":
		return c.remove(p, req.Args)
	case "queue":
		return formatQueue(p), nil
	case "nowplaying", "np":
		current := p.Queue.Current()
		if current == nil {
			return "Nothing is playing.", nil
		}
		return fmt.Sprintf("Now playing: %s - %s [%s/%s]", current.Author, current.Title,
			formatDuration(p.Position()), formatDuration(current.Duration)), nil
	case "help":
		return c.help(), nil
	default:
		return fmt.Sprintf("Unknown command. Try %shelp.", c.Prefix), nil
	}
}

func (c *Commands) play(ctx context.Context, req Request) (string, error) {
	if len(req.Args) == 0 {
		return fmt.Sprintf("Usage: %splay <query or url>", c.Prefix), nil
	}

	p, ok := c.client.Players().Get(req.GuildID)
	if !ok {
		if req.VoiceID == "" {
			return "", ErrNotInVoice
		}
		var err error
		p, err = c.client.Players().Create(ctx, link.CreateOptions{
			GuildID: req.GuildID,
			VoiceID: req.VoiceID,
			TextID:  req.TextID,
			Deaf:    true,
		})
		if err != nil {
			return "", err
		}
	}

	res, err := c.client.Search(ctx, strings.Join(req.Args, " "), link.SearchOptions{
		Requester: req.Requester,
		Engine:    c.Engine,
	})
	if err != nil {
		return "", err
	}
	if res.Exception != nil {
		return "", fmt.Errorf("load failed: %s", res.Exception.Message)
	}
	if len(res.Tracks) == 0 {
		return "No results.", nil
	}

	var reply string
	switch res.Type {
	case link.ResultPlaylist:
		p.Queue.Add(res.Tracks...)
		reply = fmt.Sprintf("Queued %d tracks from %s.", len(res.Tracks), res.PlaylistName)
	default:
		t := res.Tracks[0]
		p.Queue.Add(t)
		reply = fmt.Sprintf("Queued %s - %s.", t.Author, t.Title)
	}

	if !p.Playing() {
		if err := p.Play(ctx, nil, link.PlayOptions{}); err != nil {
			return "", err
		}
	}
	return reply, nil
}

func (c *Commands) loop(p *link.Player, args []string) (string, error) {
	mode := link.LoopNone
	if len(args) > 0 {
		mode = link.LoopMode(strings.ToLower(args[0]))
	}
	switch mode {
	case link.LoopNone, link.LoopSong, link.LoopQueue:
	default:
		return "Usage: loop <none|song|queue>", nil
	}
	return "Loop: " + string(mode), p.SetLoop(mode)
}

func (c *Commands) volume(ctx context.Context, p *link.Player, args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("Volume: %d", p.Volume()), nil
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: volume <0-1000>", nil
	}
	if err := p.SetVolume(ctx, v); err != nil {
		return "", err
	}
	return fmt.Sprintf("Volume: %d", v), nil
}

// seek 参数为秒
func (c *Commands) seek(ctx context.Context, p *link.Player, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: seek <seconds>", nil
	}
	sec, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: seek <seconds>", nil
	}
	if err := p.Seek(ctx, int64(sec)*1000); err != nil {
		return "", err
	}
	return "Seeked to " + formatDuration(p.Position()), nil
}

// remove 参数从 1 开始计数
func (c *Commands) remove(p *link.Player, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: remove <position>", nil
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: remove <position>", nil
	}
	t, err := p.Queue.Remove(pos - 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %s - %s.", t.Author, t.Title), nil
}

func (c *Commands) help() string {
	names := []string{"play", "pause", "resume", "skip", "previous", "stop", "leave",
		"shuffle", "loop", "volume", "seek", "remove", "queue", "nowplaying"}
	return "Commands: " + c.Prefix + strings.Join(names, ", "+c.Prefix)
}

const queuePreview = 10

func formatQueue(p *link.Player) string {
	var b strings.Builder
	if current := p.Queue.Current(); current != nil {
		fmt.Fprintf(&b, "Now: %s - %s\n", current.Author, current.Title)
	}
	tracks := p.Queue.Tracks()
	if len(tracks) == 0 {
		b.WriteString("Queue is empty.")
		return b.String()
	}
	for i, t := range tracks {
		if i == queuePreview {
			fmt.Fprintf(&b, "... and %d more", len(tracks)-queuePreview)
			break
		}
		fmt.Fprintf(&b, "%d. %s - %s [%s]\n", i+1, t.Author, t.Title, formatDuration(t.Duration))
	}
	fmt.Fprintf(&b, "Total: %s", formatDuration(p.Queue.Duration()))
	return strings.TrimRight(b.String(), "\n")
}

// formatDuration 毫秒转 m:ss 或 h:mm:ss
func formatDuration(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
