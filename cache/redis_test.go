package cache

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"Tidelink/config"

	"github.com/google/go-cmp/cmp"
)

// respServer 只实现 PING / GET / SET 的 Redis 服务，其他命令一律返回错误
type respServer struct {
	ln net.Listener

	mu   sync.Mutex
	data map[string]string
	sets [][]string
}

func newRESPServer(t *testing.T) *respServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &respServer{ln: ln, data: make(map[string]string)}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *respServer) config(t *testing.T) config.Redis {
	t.Helper()
	host, port, err := net.SplitHostPort(s.ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	return config.Redis{Host: host, Port: port}
}

func (s *respServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *respServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if _, err := io.WriteString(conn, s.exec(args)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("unexpected line %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func (s *respServer) exec(args []string) string {
	if len(args) == 0 {
		return "-ERR empty command\r\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "GET":
		v, ok := s.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
	case "SET":
		s.data[args[1]] = args[2]
		s.sets = append(s.sets, args)
		return "+OK\r\n"
	default:
		return "-ERR unknown command '" + args[0] + "'\r\n"
	}
}

func (s *respServer) setCommands() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.sets...)
}

func TestRedisSessionStore(t *testing.T) {
	ctx := context.Background()
	srv := newRESPServer(t)

	store, err := ConnectRedis(ctx, srv.config(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if sid, err := store.Get(ctx, "main"); err != nil || sid != "" {
		t.Fatalf("Get() of missing key = %q, %v; want empty and no error", sid, err)
	}

	if err := store.Save(ctx, "main", "sid-1", 90*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, "backup", "sid-2", 0); err != nil {
		t.Fatal(err)
	}
	if sid, err := store.Get(ctx, "main"); err != nil || sid != "sid-1" {
		t.Errorf("Get() = %q, %v; want sid-1", sid, err)
	}

	want := [][]string{
		{"set", "tidelink:session:main", "sid-1", "ex", "90"},
		{"set", "tidelink:session:backup", "sid-2"},
	}
	if diff := cmp.Diff(want, srv.setCommands()); diff != "" {
		t.Errorf("SET commands mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectRedisUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	if _, err := ConnectRedis(context.Background(), config.Redis{Host: host, Port: port}); err == nil {
		t.Error("ConnectRedis() succeeded against a closed port")
	}
}
