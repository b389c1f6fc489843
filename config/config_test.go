package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Tidelink/driver"

	"github.com/google/go-cmp/cmp"
	"github.com/sethvargo/go-envconfig"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{}))
	if err != nil {
		t.Fatal(err)
	}

	want := Tidelink{
		RetryTimeout:     3 * time.Second,
		RetryCount:       15,
		VoiceTimeout:     15 * time.Second,
		DefaultEngine:    "youtube",
		DefaultVolume:    100,
		FallbackEnable:   true,
		FallbackEngine:   "soundcloud",
		ResumeTimeout:    300,
		ClientName:       "tidelink",
		RESTBurst:        1,
		SessionStore:     "memory",
		StatsTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
	if diff := cmp.Diff(want, cfg.Tidelink); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if cfg.Redis.Addr() != "127.0.0.1:6379" || cfg.NodesFile != "nodes.json" {
		t.Errorf("redis %s nodes file %s", cfg.Redis.Addr(), cfg.NodesFile)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), envconfig.MapLookuper(map[string]string{
		"TIDELINK_RETRY_COUNT":     "2",
		"TIDELINK_VOICE_TIMEOUT":   "500ms",
		"TIDELINK_FALLBACK_ENABLE": "false",
		"TIDELINK_SESSION_STORE":   "redis",
		"TIDELINK_HISTORY_LIMIT":   "20",
		"REDIS_HOST":               "cache",
		"LOG_LEVEL":                "debug",
	}))
	if err != nil {
		t.Fatal(err)
	}

	opts := cfg.LinkOptions()
	if opts.Node.RetryCount != 2 || opts.VoiceConnectionTimeout != 500*time.Millisecond {
		t.Errorf("retry %d voice timeout %s", opts.Node.RetryCount, opts.VoiceConnectionTimeout)
	}
	if opts.SearchFallback.Enable || opts.HistoryLimit != 20 {
		t.Errorf("fallback %+v history %d", opts.SearchFallback, opts.HistoryLimit)
	}
	if cfg.Redis.Addr() != "cache:6379" || cfg.Log.Logger().Level != "debug" {
		t.Errorf("redis %s log level %s", cfg.Redis.Addr(), cfg.Log.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"negative retry", map[string]string{"TIDELINK_RETRY_COUNT": "-1"}, "TIDELINK_RETRY_COUNT"},
		{"volume too high", map[string]string{"TIDELINK_DEFAULT_VOLUME": "1001"}, "TIDELINK_DEFAULT_VOLUME"},
		{"unknown store", map[string]string{"TIDELINK_SESSION_STORE": "etcd"}, "TIDELINK_SESSION_STORE"},
		{"bad duration", map[string]string{"TIDELINK_RETRY_TIMEOUT": "soon"}, "parse environment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), envconfig.MapLookuper(tt.env))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func writeNodes(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadNodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.json")

	writeNodes(t, path, `[
		{"name": "main", "host": "localhost", "port": 2333, "auth": "youshallnotpass"},
		{"name": "legacy", "host": "10.0.0.2", "port": 2334, "auth": "pw", "secure": true, "driver": "lavalink/v3"}
	]`)
	got, err := LoadNodes(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []driver.NodeConfig{
		{Name: "main", Host: "localhost", Port: 2333, Auth: "youshallnotpass"},
		{Name: "legacy", Host: "10.0.0.2", Port: 2334, Auth: "pw", Secure: true, Driver: driver.Lavalink3ID},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("nodes mismatch (-want +got):\n%s", diff)
	}

	invalid := map[string]string{
		"missing name": `[{"host": "h", "port": 1}]`,
		"missing host": `[{"name": "a", "port": 1}]`,
		"bad port":     `[{"name": "a", "host": "h", "port": 70000}]`,
		"duplicate":    `[{"name": "a", "host": "h", "port": 1}, {"name": "a", "host": "h", "port": 2}]`,
		"not json":     `nodes: []`,
	}
	for name, content := range invalid {
		writeNodes(t, path, content)
		if _, err := LoadNodes(path); err == nil {
			t.Errorf("%s: LoadNodes() succeeded", name)
		}
	}
}

func TestWatchNodesReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.json")
	writeNodes(t, path, `[]`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []driver.NodeConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchNodes(ctx, path, func(nodes []driver.NodeConfig) {
			select {
			case reloaded <- nodes:
			default:
			}
		})
	}()

	// 监听器启动前的写入可能丢失，重复写入直到收到回调
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case nodes := <-reloaded:
			if len(nodes) != 1 || nodes[0].Name != "main" {
				t.Fatalf("reloaded %+v", nodes)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("WatchNodes() = %v", err)
			}
			return
		case <-tick.C:
			writeNodes(t, path, `[{"name": "main", "host": "localhost", "port": 2333}]`)
			writeNodes(t, filepath.Join(dir, "other.json"), `ignored`)
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
