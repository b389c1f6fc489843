package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"Tidelink/codec"
	"Tidelink/logger"
	"Tidelink/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Lavalink3ID 旧版 Lavalink，播放控制走 websocket 操作码
const Lavalink3ID = "lavalink/v3"

var playerPathRe = regexp.MustCompile(`/sessions/(.*)/players/(.*)`)

// lavalink3LoadTypes 旧版加载类型到规范类型
var lavalink3LoadTypes = map[string]model.LoadType{
	"TRACK_LOADED":    model.LoadTypeTrack,
	"PLAYLIST_LOADED": model.LoadTypePlaylist,
	"SEARCH_RESULT":   model.LoadTypeSearch,
	"NO_MATCHES":      model.LoadTypeEmpty,
	"LOAD_FAILED":     model.LoadTypeError,
}

// Lavalink3 旧版协议驱动
type Lavalink3 struct {
	*base
	resumeKey string
}

// NewLavalink3 创建 Lavalink v3 驱动
func NewLavalink3(cfg NodeConfig, opts Options, listener Listener) Driver {
	b := newBase(Lavalink3ID, cfg, opts, listener, "/", "")
	b.decode = codec.DecodeLavalink
	return &Lavalink3{base: b, resumeKey: "tidelink-" + uuid.NewString()}
}

func (d *Lavalink3) Connect(ctx context.Context) (*websocket.Conn, error) {
	h := d.identityHeaders()
	h.Set("Client-Name", d.opts.ClientName)
	if d.opts.Resume {
		h.Set("Resume-Key", d.resumeKey)
	}
	return d.dial(ctx, h, normalizeLavalink3Frame)
}

func (d *Lavalink3) Requester(ctx context.Context, req *Request) ([]byte, error) {
	if req.Update != nil && strings.Contains(req.Path, "/sessions") {
		return nil, d.sendUpdate(req.Update)
	}
	if req.Method == http.MethodDelete && playerPathRe.MatchString(req.Path) {
		guildID := playerPathRe.FindStringSubmatch(req.Path)[2]
		return nil, d.send(map[string]any{"op": "destroy", "guildId": guildID})
	}
	if strings.Contains(req.Path, "/sessions//") ||
		playerPathRe.MatchString(req.Path) ||
		req.Method == http.MethodDelete {
		return nil, nil
	}
	if data, ok := d.localDecode(req); ok {
		return data, nil
	}

	body, err := marshalBody(toV3Body(req.Body))
	if err != nil {
		return nil, err
	}

	path := req.Path
	if d.SessionID() != "" {
		path = "/v3" + path
	}
	h := http.Header{}
	h.Set("Authorization", d.cfg.Auth)
	h.Set("User-Agent", d.opts.UserAgent)
	resp, err := d.do(ctx, req, d.httpURL+path, body, h)
	if err != nil || resp == nil {
		return nil, err
	}
	return convertLavalink3Response(resp.body), nil
}

// toV3Body track.encoded 改为顶层 encodedTrack
func toV3Body(v any) any {
	opts, ok := v.(model.UpdatePlayerOptions)
	if !ok {
		if p, isPtr := v.(*model.UpdatePlayerOptions); isPtr && p != nil {
			opts, ok = *p, true
		}
	}
	if !ok || opts.Track == nil {
		return v
	}

	raw, err := json.Marshal(opts)
	if err != nil {
		return v
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return v
	}
	delete(tree, "track")
	if opts.Track.Encoded != nil {
		tree["encodedTrack"] = *opts.Track.Encoded
	} else {
		tree["encodedTrack"] = nil
	}
	return tree
}

// sendUpdate 把一次 PATCH 形态的更新拆成旧版操作码
//
// 发送了 play 时不再单独发送 pause/seek/volume/filters，
// 这些值作为 play 的参数一起发送。
func (d *Lavalink3) sendUpdate(update *model.UpdatePlayerInfo) error {
	for _, op := range legacyOps(update) {
		if err := d.send(op); err != nil {
			return fmt.Errorf("send %v: %w", op["op"], err)
		}
	}
	return nil
}

func legacyOps(update *model.UpdatePlayerInfo) []map[string]any {
	var ops []map[string]any
	o := update.Options
	guildID := update.GuildID

	if o.Voice != nil {
		ops = append(ops, map[string]any{
			"op":        "voiceUpdate",
			"guildId":   guildID,
			"sessionId": o.Voice.SessionID,
			"event": map[string]any{
				"token":    o.Voice.Token,
				"endpoint": o.Voice.Endpoint,
				"guild_id": guildID,
			},
		})
	}

	playSent := false
	if o.Track != nil && o.Track.Encoded != nil && *o.Track.Encoded != "" &&
		(o.Track.Length == nil || *o.Track.Length != 0) {
		playSent = true
		play := map[string]any{
			"op":        "play",
			"guildId":   guildID,
			"track":     *o.Track.Encoded,
			"noReplace": update.NoReplace,
		}
		if o.Position != nil {
			play["startTime"] = *o.Position
		}
		if o.Track.Length != nil {
			play["endTime"] = *o.Track.Length
		}
		if o.Volume != nil {
			play["volume"] = *o.Volume
		}
		if o.Paused != nil {
			play["pause"] = *o.Paused
		}
		ops = append(ops, play)
	}

	if o.Track != nil && o.Track.Encoded == nil {
		if o.Track.Length != nil && *o.Track.Length == 0 {
			ops = append(ops, map[string]any{"op": "destroy", "guildId": guildID})
		}
		ops = append(ops, map[string]any{"op": "stop", "guildId": guildID})
	}

	if playSent {
		return ops
	}

	if o.Paused != nil {
		ops = append(ops, map[string]any{"op": "pause", "guildId": guildID, "pause": *o.Paused})
	}
	if o.Position != nil && *o.Position != 0 {
		ops = append(ops, map[string]any{"op": "seek", "guildId": guildID, "position": *o.Position})
	}
	if o.Volume != nil && *o.Volume != 0 {
		ops = append(ops, map[string]any{"op": "volume", "guildId": guildID, "volume": *o.Volume})
	}
	if o.Filters != nil {
		op := map[string]any{}
		if raw, err := json.Marshal(o.Filters); err == nil {
			_ = json.Unmarshal(raw, &op)
		}
		op["op"] = "filters"
		op["guildId"] = guildID
		ops = append(ops, op)
	}
	return ops
}

// convertLavalink3Response 把旧版加载结果整理为 {loadType, data}
func convertLavalink3Response(data []byte) []byte {
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return data
	}
	legacy, ok := tree["loadType"].(string)
	if !ok {
		return data
	}
	loadType, ok := lavalink3LoadTypes[legacy]
	if !ok {
		return data
	}

	out := map[string]any{"loadType": loadType}
	tracks, _ := tree["tracks"].([]any)
	switch loadType {
	case model.LoadTypeTrack:
		if len(tracks) > 0 {
			out["data"] = buildV4Track(tracks[0])
		}
	case model.LoadTypePlaylist:
		built := make([]any, 0, len(tracks))
		for _, t := range tracks {
			built = append(built, buildV4Track(t))
		}
		out["data"] = map[string]any{"info": tree["playlistInfo"], "tracks": built}
	case model.LoadTypeSearch:
		built := make([]any, 0, len(tracks))
		for _, t := range tracks {
			built = append(built, buildV4Track(t))
		}
		out["data"] = built
	case model.LoadTypeError:
		out["data"] = tree["exception"]
	}

	converted, err := json.Marshal(out)
	if err != nil {
		return data
	}
	return converted
}

// buildV4Track {track, info} 转为 {encoded, info, pluginInfo}
func buildV4Track(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	return map[string]any{
		"encoded":    m["track"],
		"info":       m["info"],
		"pluginInfo": map[string]any{},
	}
}

// normalizeLavalink3Frame 规范化结束原因和事件中的曲目
func normalizeLavalink3Frame(data []byte) ([]byte, error) {
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}

	if reason, ok := tree["reason"].(string); ok && tree["type"] == string(model.EventTrackEnd) {
		tree["reason"] = legacyReason(reason)
	}
	if encoded, ok := tree["track"].(string); ok {
		track := map[string]any{"encoded": encoded}
		if decoded, err := codec.DecodeLavalink(encoded); err == nil {
			track["info"] = decoded.Info
		}
		tree["track"] = track
	}
	return json.Marshal(tree)
}

func legacyReason(reason string) string {
	if strings.EqualFold(reason, "LOAD_FAILED") {
		return string(model.ReasonLoadFailed)
	}
	return strings.ToLower(reason)
}

// UpdateSession 会话未建立时通过 websocket 配置恢复，否则 PATCH
func (d *Lavalink3) UpdateSession(ctx context.Context, sessionID string, resume bool, timeout int) error {
	if sessionID == "" {
		if err := d.send(map[string]any{
			"op":      "configureResuming",
			"key":     d.resumeKey,
			"timeout": 60,
		}); err != nil {
			return fmt.Errorf("configure resuming: %w", err)
		}
		logger.Debug("session resume configured over websocket",
			logger.Node(d.cfg.Name),
			logger.Bool("resume", resume))
		return nil
	}

	_, err := d.Requester(ctx, &Request{
		Path:   fmt.Sprintf("/sessions/%s", sessionID),
		Method: http.MethodPatch,
		Body: map[string]any{
			"resumingKey": sessionID,
			"timeout":     timeout,
		},
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	logger.Debug("session updated",
		logger.Node(d.cfg.Name),
		logger.Bool("resume", resume),
		logger.Int("timeout", timeout))
	return nil
}
