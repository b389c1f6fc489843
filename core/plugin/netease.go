// Package plugin 自定义曲目来源，实现 link.SourcePlugin
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Tidelink/core/link"
	"Tidelink/logger"
	"Tidelink/model"
)

const neteaseDefaultLimit = 5

// Netease 网易云音乐来源
//
// 通过 NeteaseCloudMusicApi 兼容服务搜索，返回的曲目只带直链 URI，
// 播放前由节点按 URI 重新解析。
type Netease struct {
	baseURL    string
	httpClient *http.Client
	limit      int
}

// NewNetease 创建网易云音乐插件，baseURL 为 API 服务地址
func NewNetease(baseURL string) *Netease {
	return &Netease{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limit: neteaseDefaultLimit,
	}
}

// SetLimit 设置单次搜索返回数量
func (p *Netease) SetLimit(limit int) {
	if limit > 0 {
		p.limit = limit
	}
}

func (p *Netease) Name() string           { return "netease" }
func (p *Netease) SourceName() string     { return "netease" }
func (p *Netease) SourceIdentify() string { return "ne" }

type neteaseSong struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name   string `json:"name"`
		PicURL string `json:"picUrl"`
	} `json:"album"`
	Duration int64 `json:"duration"`
}

// Search 搜索歌曲；没有播放地址的歌曲（版权限制）被跳过
func (p *Netease) Search(ctx context.Context, query string, opts link.SearchOptions) (*link.SearchResult, error) {
	logger.Info("[NeteasePlugin] 搜索歌曲",
		logger.String("query", query),
		logger.Int("limit", p.limit))

	songs, err := p.searchSongs(ctx, query)
	if err != nil {
		logger.Error("[NeteasePlugin] 搜索失败", logger.ErrorField(err))
		return nil, fmt.Errorf("搜索失败: %w", err)
	}

	res := &link.SearchResult{Type: link.ResultSearch}
	if len(songs) == 0 {
		return res, nil
	}

	ids := make([]string, len(songs))
	for i, s := range songs {
		ids[i] = strconv.FormatInt(s.ID, 10)
	}
	urls, err := p.songURLs(ctx, ids)
	if err != nil {
		logger.Error("[NeteasePlugin] 获取播放地址失败", logger.ErrorField(err))
		return nil, fmt.Errorf("获取播放地址失败: %w", err)
	}

	for _, s := range songs {
		playURL := urls[s.ID]
		if playURL == "" {
			continue
		}
		artists := make([]string, len(s.Artists))
		for i, a := range s.Artists {
			artists[i] = a.Name
		}
		res.Tracks = append(res.Tracks, &model.Track{
			Identifier: strconv.FormatInt(s.ID, 10),
			IsSeekable: true,
			Author:     strings.Join(artists, ", "),
			Duration:   s.Duration,
			Title:      s.Name,
			URI:        playURL,
			ArtworkURL: s.Album.PicURL,
			Source:     p.SourceName(),
			PluginInfo: map[string]any{"album": s.Album.Name},
			Requester:  opts.Requester,
		})
	}

	logger.Info("[NeteasePlugin] 搜索完成",
		logger.String("query", query),
		logger.Int("count", len(res.Tracks)))
	return res, nil
}

func (p *Netease) searchSongs(ctx context.Context, keyword string) ([]neteaseSong, error) {
	params := url.Values{}
	params.Set("keywords", keyword)
	params.Set("limit", strconv.Itoa(p.limit))

	var result struct {
		Result struct {
			Songs []neteaseSong `json:"songs"`
		} `json:"result"`
		Code int `json:"code"`
	}
	if err := p.get(ctx, "/search", params, &result); err != nil {
		return nil, err
	}
	if result.Code != http.StatusOK {
		return nil, fmt.Errorf("API返回错误 (code: %d)", result.Code)
	}
	return result.Result.Songs, nil
}

// songURLs 批量获取播放地址
func (p *Netease) songURLs(ctx context.Context, ids []string) (map[int64]string, error) {
	params := url.Values{}
	params.Set("id", strings.Join(ids, ","))
	params.Set("level", "standard")

	var result struct {
		Data []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
		Code int    `json:"code"`
		Msg  string `json:"msg,omitempty"`
	}
	if err := p.get(ctx, "/song/url/v1", params, &result); err != nil {
		return nil, err
	}
	if result.Code != http.StatusOK {
		return nil, fmt.Errorf("API返回错误: %s (code: %d)", result.Msg, result.Code)
	}

	urls := make(map[int64]string, len(result.Data))
	for _, d := range result.Data {
		urls[d.ID] = d.URL
	}
	return urls, nil
}

func (p *Netease) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	// 设置cookie确保返回正常码率的url
	req.AddCookie(&http.Cookie{Name: "os", Value: "pc"})

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API返回错误状态码: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}
