package link

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"Tidelink/core/node"
	"Tidelink/model"
)

// ErrResolveFailed 在当前节点上找不到可播放的替代曲目
var ErrResolveFailed = errors.New("failed to resolve track")

// durationTolerance 按时长匹配时允许的误差（毫秒）
const durationTolerance = 2000

// resolveTrack 确保曲目的 Encoded 对节点方言有效，必要时重新搜索
func (c *Client) resolveTrack(ctx context.Context, n *node.Node, t *model.Track, overwrite bool) error {
	driverID := n.Driver().ID()
	if t.IsPlayable() && t.DriverName == driverID {
		t.RealURI = t.URI
		return nil
	}

	found, err := c.findReplacement(ctx, n, t)
	if err != nil {
		return err
	}
	if found == nil {
		return fmt.Errorf("%w: %s - %s", ErrResolveFailed, t.Author, t.Title)
	}

	if overwrite {
		t.Overwrite(found)
	}
	t.Encoded = found.Encoded
	t.RealURI = found.URI
	t.Duration = found.Duration
	t.DriverName = driverID
	return nil
}

// findReplacement 依次尝试原链接、默认引擎、备用引擎
func (c *Client) findReplacement(ctx context.Context, n *node.Node, t *model.Track) (*model.Track, error) {
	opts := SearchOptions{NodeName: n.Name(), Requester: t.Requester}
	query := searchTerms(t)

	var candidates []string
	if t.URI != "" {
		candidates = append(candidates, "directSearch="+t.URI)
	}
	candidates = append(candidates, "directSearch="+c.enginePrefix(c.opts.DefaultSearchEngine)+"search:"+query)
	if c.opts.SearchFallback.Enable {
		candidates = append(candidates, "directSearch="+c.enginePrefix(c.opts.SearchFallback.Engine)+"search:"+query)
	}

	for _, candidate := range candidates {
		res, err := c.Search(ctx, candidate, opts)
		if err != nil {
			return nil, err
		}
		if len(res.Tracks) > 0 {
			return matchTrack(t, res.Tracks), nil
		}
	}
	return nil, nil
}

// searchTerms "作者 - 标题"，缺失的部分省略
func searchTerms(t *model.Track) string {
	var parts []string
	for _, p := range []string{t.Author, t.Title} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " - ")
}

// matchTrack 优先作者或标题一致，其次时长接近，最后取第一条
//
// 作者为空时跳过第一轮匹配。
func matchTrack(t *model.Track, results []*model.Track) *model.Track {
	if t.Author != "" {
		for _, r := range results {
			if strings.EqualFold(r.Author, t.Author) ||
				strings.EqualFold(r.Author, t.Author+" - Topic") ||
				strings.EqualFold(r.Title, t.Title) {
				return r
			}
		}
	}
	if t.Duration > 0 {
		for _, r := range results {
			diff := r.Duration - t.Duration
			if diff >= -durationTolerance && diff <= durationTolerance {
				return r
			}
		}
	}
	return results[0]
}
