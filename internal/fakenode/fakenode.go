// Package fakenode 进程内的 Lavalink v4 模拟节点，用于测试和本地调试
package fakenode

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"Tidelink/codec"
	"Tidelink/logger"
	"Tidelink/model"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Update 记录到的一次播放器 PATCH
type Update struct {
	SessionID string
	GuildID   string
	NoReplace bool
	Body      map[string]any
}

// Server 模拟节点
type Server struct {
	password string
	upgrader websocket.Upgrader

	mu          sync.Mutex
	players     int
	results     map[string]model.LoadResult
	updates     []Update
	deletes     []string
	dials       int
	reject      bool
	conns       map[*websocket.Conn]string
	sessions    map[string]bool
	resumeCalls int
	echo        bool
}

// New 创建模拟节点，password 为空时不校验
func New(password string) *Server {
	return &Server{
		password: password,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		results:  make(map[string]model.LoadResult),
		conns:    make(map[*websocket.Conn]string),
		sessions: make(map[string]bool),
	}
}

// Handler 返回路由
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)

	v4 := r.PathPrefix("/v4").Subrouter()
	v4.HandleFunc("/websocket", s.handleWebsocket).Methods(http.MethodGet)
	v4.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v4.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	v4.HandleFunc("/loadtracks", s.handleLoadTracks).Methods(http.MethodGet)
	v4.HandleFunc("/sessions/{session}", s.handleUpdateSession).Methods(http.MethodPatch)
	v4.HandleFunc("/sessions/{session}/players", s.handleGetPlayers).Methods(http.MethodGet)
	v4.HandleFunc("/sessions/{session}/players/{guild}", s.handleUpdatePlayer).Methods(http.MethodPatch)
	v4.HandleFunc("/sessions/{session}/players/{guild}", s.handleDestroyPlayer).Methods(http.MethodDelete)
	v4.HandleFunc("/routeplanner/status", noContent).Methods(http.MethodGet)
	v4.HandleFunc("/routeplanner/free/address", noContent).Methods(http.MethodPost)
	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.password != "" && r.Header.Get("Authorization") != s.password {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("fakenode: failed to write response", logger.ErrorField(err))
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	reject := s.reject
	s.mu.Unlock()
	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sessionID := r.Header.Get("Session-Id")
	s.mu.Lock()
	resumed := sessionID != "" && s.sessions[sessionID]
	if !resumed {
		sessionID = uuid.NewString()
	}
	s.sessions[sessionID] = true
	s.mu.Unlock()

	ready := map[string]any{"op": "ready", "resumed": resumed, "sessionId": sessionID}
	if err := conn.WriteJSON(ready); err != nil {
		conn.Close()
		return
	}
	s.mu.Lock()
	s.conns[conn] = sessionID
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	players := s.players
	s.mu.Unlock()
	writeJSON(w, model.NodeStats{Players: players, Uptime: 1000, CPU: model.CPU{Cores: 1}})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, model.NodeInfo{
		Version:        model.Version{Semver: "4.0.0", Major: 4},
		JVM:            "fake",
		SourceManagers: []string{"youtube", "soundcloud"},
	})
}

func (s *Server) handleLoadTracks(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	s.mu.Lock()
	result, ok := s.results[identifier]
	echo := s.echo
	s.mu.Unlock()
	if !ok && echo {
		result, ok = synthesize(identifier)
	}
	if !ok {
		result = model.LoadResult{LoadType: model.LoadTypeEmpty}
	}
	writeJSON(w, result)
}

// synthesize 按 identifier 生成可解码的结果：搜索返回三首，URL 返回一首
func synthesize(identifier string) (model.LoadResult, bool) {
	track := func(id, title, uri string) (model.RawTrack, error) {
		info := model.TrackInfo{
			Identifier: id,
			IsSeekable: true,
			Author:     "Fake Artist",
			Length:     180000,
			Title:      title,
			URI:        uri,
			SourceName: "http",
		}
		encoded, err := codec.EncodeLavalink(info)
		return model.RawTrack{Encoded: encoded, Info: info}, err
	}

	if prefix, query, found := strings.Cut(identifier, "search:"); found && !strings.Contains(prefix, "/") {
		tracks := make([]model.RawTrack, 0, 3)
		for i := range 3 {
			id := fmt.Sprintf("%s-%d", prefix, i+1)
			t, err := track(id, fmt.Sprintf("%s (%d)", query, i+1), "https://fake.invalid/"+id)
			if err != nil {
				return model.LoadResult{}, false
			}
			tracks = append(tracks, t)
		}
		data, _ := json.Marshal(tracks)
		return model.LoadResult{LoadType: model.LoadTypeSearch, Data: data}, true
	}

	if strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://") {
		t, err := track(identifier, identifier, identifier)
		if err != nil {
			return model.LoadResult{}, false
		}
		data, _ := json.Marshal(t)
		return model.LoadResult{LoadType: model.LoadTypeTrack, Data: data}, true
	}
	return model.LoadResult{}, false
}

// EchoSearches 打开后，未预设的搜索和 URL 会得到生成的结果
func (s *Server) EchoSearches(on bool) {
	s.mu.Lock()
	s.echo = on
	s.mu.Unlock()
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.resumeCalls++
	s.mu.Unlock()
	writeJSON(w, body)
}

func (s *Server) handleGetPlayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, []model.RemotePlayer{})
}

func (s *Server) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.updates = append(s.updates, Update{
		SessionID: vars["session"],
		GuildID:   vars["guild"],
		NoReplace: r.URL.Query().Get("noReplace") == "true",
		Body:      body,
	})
	s.mu.Unlock()
	writeJSON(w, model.RemotePlayer{GuildID: vars["guild"], Volume: 100})
}

func (s *Server) handleDestroyPlayer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.deletes = append(s.deletes, mux.Vars(r)["guild"])
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// SetPlayers 设置 /stats 返回的播放器数量
func (s *Server) SetPlayers(n int) {
	s.mu.Lock()
	s.players = n
	s.mu.Unlock()
}

// SetLoadResult 设置某个 identifier 的加载结果
func (s *Server) SetLoadResult(identifier string, result model.LoadResult) {
	s.mu.Lock()
	s.results[identifier] = result
	s.mu.Unlock()
}

// RejectUpgrades 为 true 时拒绝 websocket 握手
func (s *Server) RejectUpgrades(reject bool) {
	s.mu.Lock()
	s.reject = reject
	s.mu.Unlock()
}

// Updates 已收到的播放器更新
func (s *Server) Updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

// Deletes 已收到的播放器删除
func (s *Server) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletes...)
}

// Dials websocket 握手次数（含被拒绝的）
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// ResumeCalls 会话恢复配置请求次数
func (s *Server) ResumeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeCalls
}

// Connections 当前连接数
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast 向所有连接发送一帧
func (s *Server) Broadcast(v any) error {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(v); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll 以指定关闭码断开所有连接
func (s *Server) CloseAll(code int, reason string) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.Close()
	}
}
