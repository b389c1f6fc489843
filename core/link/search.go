package link

import (
	"context"
	"regexp"

	"Tidelink/logger"
	"Tidelink/model"
)

// SearchResultType 搜索结果类型
type SearchResultType string

const (
	ResultTrack    SearchResultType = "TRACK"
	ResultPlaylist SearchResultType = "PLAYLIST"
	ResultSearch   SearchResultType = "SEARCH"
)

var defaultEngines = map[string]string{
	"youtube":      "yt",
	"youtubeMusic": "ytm",
	"soundcloud":   "sc",
}

var (
	directSearchPattern = regexp.MustCompile(`^directSearch=(.*)$`)
	urlPattern          = regexp.MustCompile(`^https?://`)
)

// SearchOptions 搜索参数
type SearchOptions struct {
	Requester any
	// Engine 为空时使用默认引擎；命中已注册插件时交给插件处理
	Engine string
	// NodeName 为空时按负载选择节点
	NodeName string
}

// SearchResult 搜索结果，Tracks 已绑定到执行搜索的节点方言
type SearchResult struct {
	Type         SearchResultType
	PlaylistName string
	Tracks       []*model.Track
	// Exception 节点返回 error 加载类型时的异常
	Exception *model.Exception
}

// SourcePlugin 自定义来源，按 SourceName 匹配搜索引擎名
type SourcePlugin interface {
	Name() string
	SourceName() string
	SourceIdentify() string
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error)
}

// Search 搜索或加载曲目
//
// directSearch=<payload> 原样交给节点；http(s) 链接原样加载；其余加上引擎前缀。
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	direct := directSearchPattern.FindStringSubmatch(query)
	if opts.Engine != "" && direct == nil {
		if plugin, ok := c.plugins[opts.Engine]; ok {
			return plugin.Search(ctx, query, opts)
		}
	}

	n, err := c.pickNode(ctx, opts.NodeName)
	if err != nil {
		return nil, err
	}

	engine := opts.Engine
	if engine == "" {
		engine = c.opts.DefaultSearchEngine
	}
	identifier := c.buildQuery(query, engine, direct)
	result, err := n.Rest().Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return buildSearchResult(result, opts.Requester, n.Driver().ID()), nil
}

func (c *Client) buildQuery(query, engine string, direct []string) string {
	if direct != nil {
		return direct[1]
	}
	if urlPattern.MatchString(query) {
		return query
	}
	return c.enginePrefix(engine) + "search:" + query
}

func (c *Client) enginePrefix(engine string) string {
	if prefix, ok := c.engines[engine]; ok {
		return prefix
	}
	return engine
}

func buildSearchResult(result *model.LoadResult, requester any, driverID string) *SearchResult {
	out := &SearchResult{Type: ResultSearch}
	wrap := func(raws []model.RawTrack) {
		for _, raw := range raws {
			out.Tracks = append(out.Tracks, model.NewTrack(raw, requester, driverID))
		}
	}

	switch result.LoadType {
	case model.LoadTypeTrack:
		raw, err := result.Track()
		if err != nil {
			logger.Debug("malformed track result", logger.ErrorField(err))
			return out
		}
		out.Type = ResultTrack
		wrap([]model.RawTrack{*raw})
	case model.LoadTypePlaylist:
		playlist, err := result.Playlist()
		if err != nil {
			logger.Debug("malformed playlist result", logger.ErrorField(err))
			return out
		}
		out.Type = ResultPlaylist
		out.PlaylistName = playlist.Info.Name
		wrap(playlist.Tracks)
	case model.LoadTypeSearch:
		raws, err := result.Search()
		if err != nil {
			logger.Debug("malformed search result", logger.ErrorField(err))
			return out
		}
		wrap(raws)
	case model.LoadTypeError:
		if exception, err := result.Exception(); err == nil {
			out.Exception = exception
		}
	}
	return out
}
