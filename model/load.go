package model

import (
	"encoding/json"
	"fmt"
)

// LoadType 规范化的加载结果类型
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

// LoadResult GET /loadtracks 的规范化结果，Data 依 LoadType 解析
type LoadResult struct {
	LoadType LoadType        `json:"loadType"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// PlaylistInfo 歌单信息
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// Playlist 歌单加载结果
type Playlist struct {
	Info       PlaylistInfo   `json:"info"`
	PluginInfo map[string]any `json:"pluginInfo,omitempty"`
	Tracks     []RawTrack     `json:"tracks"`
}

// Exception 节点返回的异常
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Message, e.Severity, e.Cause)
}

// Track 解析 track 类型的数据
func (r *LoadResult) Track() (*RawTrack, error) {
	var track RawTrack
	if err := r.decode(LoadTypeTrack, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// Playlist 解析 playlist 类型的数据
func (r *LoadResult) Playlist() (*Playlist, error) {
	var playlist Playlist
	if err := r.decode(LoadTypePlaylist, &playlist); err != nil {
		return nil, err
	}
	return &playlist, nil
}

// Search 解析 search 类型的数据
func (r *LoadResult) Search() ([]RawTrack, error) {
	var tracks []RawTrack
	if err := r.decode(LoadTypeSearch, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// Exception 解析 error 类型的数据
func (r *LoadResult) Exception() (*Exception, error) {
	var exception Exception
	if err := r.decode(LoadTypeError, &exception); err != nil {
		return nil, err
	}
	return &exception, nil
}

func (r *LoadResult) decode(want LoadType, v any) error {
	if r.LoadType != want {
		return fmt.Errorf("load result is %q, not %q", r.LoadType, want)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("load result %q has no data", r.LoadType)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s load result: %w", want, err)
	}
	return nil
}
