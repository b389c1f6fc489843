package model

// TrackInfo 节点返回的曲目元数据
type TrackInfo struct {
	Identifier string `json:"identifier"`
	IsSeekable bool   `json:"isSeekable"`
	Author     string `json:"author"`
	Length     int64  `json:"length"` // 毫秒
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
	Title      string `json:"title"`
	URI        string `json:"uri,omitempty"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	SourceName string `json:"sourceName"`
}

// RawTrack 规范化后的节点曲目结构（encoded + info）
type RawTrack struct {
	Encoded    string         `json:"encoded"`
	Info       TrackInfo      `json:"info"`
	PluginInfo map[string]any `json:"pluginInfo,omitempty"`
	UserData   map[string]any `json:"userData,omitempty"`
}

// Track 客户端持有的曲目
//
// Encoded 只对产生它的驱动方言有效；DriverName 记录该方言，
// 播放前若与当前节点的方言不一致则需要重新解析。
type Track struct {
	Encoded    string
	Identifier string
	IsSeekable bool
	Author     string
	Duration   int64
	IsStream   bool
	Position   int64
	Title      string
	URI        string
	RealURI    string
	ArtworkURL string
	ISRC       string
	Source     string
	PluginInfo map[string]any
	Requester  any
	DriverName string
}

// NewTrack 由节点曲目构造客户端曲目
func NewTrack(raw RawTrack, requester any, driverName string) *Track {
	return &Track{
		Encoded:    raw.Encoded,
		Identifier: raw.Info.Identifier,
		IsSeekable: raw.Info.IsSeekable,
		Author:     raw.Info.Author,
		Duration:   raw.Info.Length,
		IsStream:   raw.Info.IsStream,
		Position:   raw.Info.Position,
		Title:      raw.Info.Title,
		URI:        raw.Info.URI,
		ArtworkURL: raw.Info.ArtworkURL,
		ISRC:       raw.Info.ISRC,
		Source:     raw.Info.SourceName,
		PluginInfo: raw.PluginInfo,
		Requester:  requester,
		DriverName: driverName,
	}
}

// IsPlayable 必需字段是否齐全
func (t *Track) IsPlayable() bool {
	return t.Encoded != "" &&
		t.Source != "" &&
		t.Identifier != "" &&
		t.Author != "" &&
		t.Duration != 0 &&
		t.Title != "" &&
		t.URI != ""
}

// Raw 转回节点曲目结构
func (t *Track) Raw() RawTrack {
	return RawTrack{
		Encoded: t.Encoded,
		Info: TrackInfo{
			Identifier: t.Identifier,
			IsSeekable: t.IsSeekable,
			Author:     t.Author,
			Length:     t.Duration,
			IsStream:   t.IsStream,
			Position:   t.Position,
			Title:      t.Title,
			URI:        t.URI,
			ArtworkURL: t.ArtworkURL,
			ISRC:       t.ISRC,
			SourceName: t.Source,
		},
		PluginInfo: t.PluginInfo,
	}
}

// Overwrite 用重新解析得到的曲目替换全部元数据，保留请求者
func (t *Track) Overwrite(other *Track) {
	requester := t.Requester
	*t = *other
	t.Requester = requester
}
