package link

import (
	"context"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"Tidelink/driver"
	"Tidelink/internal/fakenode"
	"Tidelink/model"
)

const testGuild = "81384788765712384"

// fakeLibrary 记录发出的语音状态包，可选地模拟网关的回应
type fakeLibrary struct {
	mu       sync.Mutex
	packets  []VoicePacket
	onPacket func(VoicePacket)
}

func (l *fakeLibrary) SelfID() string  { return "1000" }
func (l *fakeLibrary) ShardCount() int { return 1 }

func (l *fakeLibrary) SendPacket(_ int, packet VoicePacket) error {
	l.mu.Lock()
	l.packets = append(l.packets, packet)
	respond := l.onPacket
	l.mu.Unlock()
	if respond != nil {
		respond(packet)
	}
	return nil
}

func (l *fakeLibrary) respond(fn func(VoicePacket)) {
	l.mu.Lock()
	l.onPacket = fn
	l.mu.Unlock()
}

func (l *fakeLibrary) sent() []VoicePacket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]VoicePacket(nil), l.packets...)
}

// gateway 正常的网关回应：先状态后服务器
func gateway(c *Client) func(VoicePacket) {
	return func(packet VoicePacket) {
		if packet.D.ChannelID == nil {
			return
		}
		c.HandleVoiceStateUpdate(packet.D.GuildID, "voice-session", *packet.D.ChannelID, false, false)
		c.HandleVoiceServerUpdate(packet.D.GuildID, "voice-token", "us-east1234.discord.media:443")
	}
}

// recorder 按顺序记录客户端事件
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(c *Client) *recorder {
	r := &recorder{}
	c.On(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind() == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nodeConfig(t *testing.T, srv *httptest.Server) driver.NodeConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return driver.NodeConfig{Name: "main", Host: host, Port: port, Auth: "pw", Driver: driver.Lavalink4ID}
}

// newTestClient 启动模拟节点并等待会话就绪
func newTestClient(t *testing.T, lib *fakeLibrary) (*Client, *fakenode.Server) {
	t.Helper()
	fake := fakenode.New("pw")
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	opts := DefaultOptions()
	opts.VoiceConnectionTimeout = 200 * time.Millisecond
	opts.Node.RetryCount = 0
	c := New(lib, opts)
	if err := c.Start(context.Background(), []driver.NodeConfig{nodeConfig(t, srv)}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })

	n, ok := c.Nodes().Get("main")
	if !ok {
		t.Fatal("node not registered")
	}
	waitFor(t, "node session", func() bool { return n.Rest().SessionID() != "" })
	return c, fake
}

// newConnectedPlayer 创建一个已完成语音握手的播放器
func newConnectedPlayer(t *testing.T) (*Player, *Client, *fakenode.Server) {
	t.Helper()
	lib := &fakeLibrary{}
	c, fake := newTestClient(t, lib)
	lib.respond(gateway(c))

	p, err := c.Players().Create(context.Background(), CreateOptions{GuildID: testGuild, VoiceID: "2000", TextID: "3000"})
	if err != nil {
		t.Fatal(err)
	}
	return p, c, fake
}

func testTrack(id string) *model.Track {
	return &model.Track{
		Encoded:    "enc-" + id,
		Identifier: id,
		IsSeekable: true,
		Author:     "Artist",
		Duration:   180000,
		Title:      "Song " + id,
		URI:        "https://example.com/" + id,
		Source:     "youtube",
		DriverName: driver.Lavalink4ID,
	}
}

// playedTracks 节点收到的曲目 encoded，按顺序
func playedTracks(fake *fakenode.Server) []string {
	var out []string
	for _, u := range fake.Updates() {
		track, ok := u.Body["track"].(map[string]any)
		if !ok {
			continue
		}
		if encoded, ok := track["encoded"].(string); ok {
			out = append(out, encoded)
		}
	}
	return out
}

// countField 携带指定字段的更新数量
func countField(fake *fakenode.Server, field string) int {
	n := 0
	for _, u := range fake.Updates() {
		if _, ok := u.Body[field]; ok {
			n++
		}
	}
	return n
}
