package model

// VoiceServer 语音服务器信息，随播放器更新发送给节点
type VoiceServer struct {
	Token     string `json:"token"`
	Endpoint  string `json:"endpoint"`
	SessionID string `json:"sessionId"`
}

// UpdatePlayerTrack 更新播放器时的曲目部分
//
// Encoded 为 nil 时序列化为 null，表示停止当前曲目。
// Length 只在本地使用，旧版方言据此区分 stop 与 destroy。
type UpdatePlayerTrack struct {
	Encoded    *string        `json:"encoded"`
	Identifier string         `json:"identifier,omitempty"`
	UserData   map[string]any `json:"userData,omitempty"`
	Length     *int64         `json:"-"`
}

// UpdatePlayerOptions 规范化的播放器更新（PATCH 形态）
type UpdatePlayerOptions struct {
	Track    *UpdatePlayerTrack `json:"track,omitempty"`
	Position *int64             `json:"position,omitempty"`
	EndTime  *int64             `json:"endTime,omitempty"`
	Volume   *int               `json:"volume,omitempty"`
	Paused   *bool              `json:"paused,omitempty"`
	Filters  *Filters           `json:"filters,omitempty"`
	Voice    *VoiceServer       `json:"voice,omitempty"`
}

// UpdatePlayerInfo 一次播放器更新调用
type UpdatePlayerInfo struct {
	GuildID   string
	Options   UpdatePlayerOptions
	NoReplace bool
}

// PlayerState 节点上报的播放器状态
type PlayerState struct {
	Time      int64 `json:"time"`
	Position  int64 `json:"position"`
	Connected bool  `json:"connected"`
	Ping      int   `json:"ping"`
}

// RemotePlayer GET /sessions/{id}/players 返回的播放器
type RemotePlayer struct {
	GuildID string      `json:"guildId"`
	Track   *RawTrack   `json:"track"`
	Volume  int         `json:"volume"`
	Paused  bool        `json:"paused"`
	State   PlayerState `json:"state"`
	Voice   VoiceServer `json:"voice"`
	Filters Filters     `json:"filters"`
}

// Ptr 返回值的指针，便于构造可选字段
func Ptr[T any](v T) *T {
	return &v
}
