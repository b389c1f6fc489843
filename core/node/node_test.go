package node

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"Tidelink/driver"
	"Tidelink/internal/fakenode"
	"Tidelink/model"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

// recorder 记录节点事件，按发生顺序
type recorder struct {
	mu          sync.Mutex
	events      []string
	messages    []*model.Message
	onReconnect func(n *Node)
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) NodeConnect(*Node) { r.add("connect") }
func (r *recorder) NodeReconnect(n *Node) {
	if r.onReconnect != nil {
		r.onReconnect(n)
	}
	r.add("reconnect")
}
func (r *recorder) NodeDisconnect(*Node, int, string) { r.add("disconnect") }
func (r *recorder) NodeClosed(*Node)                  { r.add("closed") }
func (r *recorder) NodeError(*Node, error)            { r.add("error") }
func (r *recorder) NodeEvent(_ *Node, msg *model.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	r.add("event")
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(e string) int {
	n := 0
	for _, got := range r.snapshot() {
		if got == e {
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

func nodeConfig(t *testing.T, srv *httptest.Server, name string) driver.NodeConfig {
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
	return driver.NodeConfig{Name: name, Host: host, Port: port, Auth: "pw", Driver: driver.Lavalink4ID}
}

func TestRetryBound(t *testing.T) {
	fake := fakenode.New("pw")
	fake.RejectUpgrades(true)
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	rec := &recorder{}
	n, err := New(nodeConfig(t, srv, "a"), Options{RetryTimeout: 10 * time.Millisecond, RetryCount: 3}, rec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Connect(context.Background()); err == nil {
		t.Fatal("Connect() succeeded against a rejecting node")
	}

	waitFor(t, "node closed", func() bool { return rec.count("closed") == 1 })
	// 多等几个重试间隔，确认不会再重连
	time.Sleep(100 * time.Millisecond)

	if got := rec.count("reconnect"); got != 3 {
		t.Errorf("reconnects = %d, want 3", got)
	}
	if got := rec.count("closed"); got != 1 {
		t.Errorf("closed notifications = %d, want 1", got)
	}
	if got := fake.Dials(); got != 4 {
		t.Errorf("dial attempts = %d, want 4 (initial + 3 retries)", got)
	}
	if n.State() != StateClosed {
		t.Errorf("state = %v, want closed", n.State())
	}
	if n.RetryCounter() != 0 {
		t.Errorf("retry counter = %d after close, want reset to 0", n.RetryCounter())
	}
}

func TestReconnectNotifiedBeforeAttempt(t *testing.T) {
	fake := fakenode.New("pw")
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	rec := &recorder{}
	var dialsAtReconnect []int
	rec.onReconnect = func(*Node) {
		dialsAtReconnect = append(dialsAtReconnect, fake.Dials())
	}

	n, err := New(nodeConfig(t, srv, "a"), Options{RetryTimeout: 20 * time.Millisecond, RetryCount: 5}, rec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connection", func() bool { return fake.Connections() == 1 })

	fake.CloseAll(websocket.CloseGoingAway, "restarting")
	waitFor(t, "reconnected", func() bool { return rec.count("connect") == 2 })

	if diff := cmp.Diff([]int{1}, dialsAtReconnect); diff != "" {
		t.Errorf("dials seen by reconnect notification mismatch (-want +got):\n%s", diff)
	}
	want := []string{"connect", "disconnect", "reconnect", "connect"}
	if diff := cmp.Diff(want, rec.snapshot()); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
	if n.RetryCounter() != 0 {
		t.Errorf("retry counter = %d after successful open, want 0", n.RetryCounter())
	}
	_ = n.Disconnect()
}

func TestSelfDisconnectNeverRetries(t *testing.T) {
	fake := fakenode.New("pw")
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	rec := &recorder{}
	n, err := New(nodeConfig(t, srv, "a"), Options{RetryTimeout: 10 * time.Millisecond, RetryCount: 5}, rec)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "connect", func() bool { return rec.count("connect") == 1 })

	if err := n.Disconnect(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "closed", func() bool { return rec.count("closed") == 1 })
	time.Sleep(50 * time.Millisecond)

	if got := rec.count("reconnect"); got != 0 {
		t.Errorf("reconnects after self disconnect = %d, want 0", got)
	}
	if got := rec.count("error"); got != 0 {
		t.Errorf("errors after self disconnect = %d, want 0", got)
	}
	if fake.Dials() != 1 {
		t.Errorf("dials = %d, want 1", fake.Dials())
	}
}

func TestDisconnectWhileDialing(t *testing.T) {
	fake := fakenode.New("pw")
	// 握手前停顿，让 Disconnect 落在拨号过程中
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v4/websocket" {
			time.Sleep(200 * time.Millisecond)
		}
		fake.Handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	rec := &recorder{}
	n, err := New(nodeConfig(t, srv, "a"), Options{RetryTimeout: 10 * time.Millisecond, RetryCount: 5}, rec)
	if err != nil {
		t.Fatal(err)
	}

	dialed := make(chan error, 1)
	go func() {
		_, err := n.Connect(context.Background())
		dialed <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if n.State() != StateConnecting {
		t.Fatalf("state = %v before Disconnect, want connecting", n.State())
	}
	if err := n.Disconnect(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-dialed:
		if err == nil {
			t.Error("Connect() succeeded after Disconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Connect() did not return")
	}
	waitFor(t, "closed", func() bool { return rec.count("closed") == 1 })
	time.Sleep(100 * time.Millisecond)

	if n.State() != StateClosed {
		t.Errorf("state = %v, want closed", n.State())
	}
	if got := rec.count("connect"); got != 0 {
		t.Errorf("connect notifications = %d, want 0", got)
	}
	if got := rec.count("reconnect"); got != 0 {
		t.Errorf("reconnects = %d, want 0", got)
	}
	waitFor(t, "server side close", func() bool { return fake.Connections() == 0 })
}

func TestEventsNotBlockedByResumeConfiguration(t *testing.T) {
	fake := fakenode.New("pw")
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 会话 PATCH 卡住直到测试结束
		if r.Method == http.MethodPatch && !strings.Contains(r.URL.Path, "/players") {
			<-release
		}
		fake.Handler().ServeHTTP(w, r)
	}))
	defer srv.Close()
	defer close(release)

	rec := &recorder{}
	n, err := New(nodeConfig(t, srv, "a"), Options{Resume: true, ResumeTimeout: 60}, rec)
	if err != nil {
		t.Fatal(err)
	}
	defer n.Disconnect()

	if _, err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "session", func() bool { return n.Rest().SessionID() != "" })
	waitFor(t, "server connection", func() bool { return fake.Connections() == 1 })

	if err := fake.Broadcast(map[string]any{"op": "playerUpdate", "guildId": "1", "state": map[string]any{"position": 500}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "player update forwarded", func() bool { return rec.count("event") == 1 })
	if got := fake.ResumeCalls(); got != 0 {
		t.Errorf("resume calls = %d while the PATCH is stalled, want 0", got)
	}
}

func TestReadyAndStats(t *testing.T) {
	fake := fakenode.New("pw")
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	rec := &recorder{}
	n, err := New(nodeConfig(t, srv, "a"), Options{Resume: true, ResumeTimeout: 60}, rec)
	if err != nil {
		t.Fatal(err)
	}
	defer n.Disconnect()

	if _, err := n.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "session", func() bool { return n.Rest().SessionID() != "" })
	if n.Driver().SessionID() != n.Rest().SessionID() {
		t.Errorf("driver session %q != rest session %q", n.Driver().SessionID(), n.Rest().SessionID())
	}
	waitFor(t, "resume configuration", func() bool { return fake.ResumeCalls() == 1 })

	if err := fake.Broadcast(map[string]any{"op": "stats", "players": 4, "playingPlayers": 2, "uptime": 10}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "stats", func() bool { return n.Stats().Players == 4 })

	// 缺失的字段保留旧值
	if err := fake.Broadcast(map[string]any{"op": "stats", "playingPlayers": 1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "partial stats", func() bool { return n.Stats().PlayingPlayers == 1 })
	if got := n.Stats(); got.Players != 4 || got.Uptime != 10 {
		t.Errorf("stats = %+v, want players and uptime retained", got)
	}

	if err := fake.Broadcast(map[string]any{"op": "playerUpdate", "guildId": "1", "state": map[string]any{"position": 500}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "player update forwarded", func() bool { return rec.count("event") == 1 })
}

func TestLeastUsed(t *testing.T) {
	counts := []int{5, 2, 2, 9}
	m := NewManager(Options{}, &recorder{})

	for i, c := range counts {
		fake := fakenode.New("pw")
		fake.SetPlayers(c)
		srv := httptest.NewServer(fake.Handler())
		defer srv.Close()

		n, err := New(nodeConfig(t, srv, "node-"+strconv.Itoa(i)), m.opts, m.handler)
		if err != nil {
			t.Fatal(err)
		}
		n.state = StateConnected
		m.nodes[n.Name()] = n
		m.order = append(m.order, n.Name())
	}

	got, err := m.LeastUsed(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Name() != "node-1" {
		t.Errorf("LeastUsed() = %s, want node-1 (first of the tie)", got.Name())
	}
}

func TestLeastUsedSkipsOfflineAndFailures(t *testing.T) {
	m := NewManager(Options{StatsTimeout: 200 * time.Millisecond}, &recorder{})
	if _, err := m.LeastUsed(context.Background()); err != ErrNoNodesOnline {
		t.Fatalf("LeastUsed() with no nodes: err = %v, want ErrNoNodesOnline", err)
	}

	busy := fakenode.New("pw")
	busy.SetPlayers(3)
	busySrv := httptest.NewServer(busy.Handler())
	defer busySrv.Close()

	// 停止的服务：查询失败按 0 计
	deadSrv := httptest.NewServer(fakenode.New("pw").Handler())
	deadCfg := nodeConfig(t, deadSrv, "dead")
	deadSrv.Close()

	for _, cfg := range []driver.NodeConfig{nodeConfig(t, busySrv, "busy"), deadCfg} {
		n, err := New(cfg, m.opts, m.handler)
		if err != nil {
			t.Fatal(err)
		}
		n.state = StateConnected
		m.nodes[n.Name()] = n
		m.order = append(m.order, n.Name())
	}
	offline, _ := New(nodeConfig(t, busySrv, "offline"), m.opts, m.handler)
	m.nodes["offline"] = offline
	m.order = append(m.order, "offline")

	got, err := m.LeastUsed(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Name() != "dead" {
		t.Errorf("LeastUsed() = %s, want the failing node counted as zero", got.Name())
	}

	m.SetResolver(func(context.Context, *Manager) *Node { return offline })
	if got, _ := m.LeastUsed(context.Background()); got != offline {
		t.Errorf("LeastUsed() ignored the resolver")
	}
}

func TestManagerAddRemove(t *testing.T) {
	fake := fakenode.New("pw")
	srv := httptest.NewServer(fake.Handler())
	defer srv.Close()

	rec := &recorder{}
	m := NewManager(Options{}, rec)
	cfg := nodeConfig(t, srv, "main")

	if _, err := m.Add(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add(context.Background(), cfg); err == nil {
		t.Error("Add() accepted a duplicate name")
	}
	waitFor(t, "connect", func() bool { return rec.count("connect") == 1 })

	if err := m.Remove("main"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Get("main"); ok {
		t.Error("node still registered after Remove()")
	}
	waitFor(t, "closed", func() bool { return rec.count("closed") == 1 })
	if err := m.Remove("main"); err == nil {
		t.Error("Remove() of unknown node succeeded")
	}
}
