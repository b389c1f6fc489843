package link

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"Tidelink/model"
)

// ErrQueueIndex 下标越界
var ErrQueueIndex = errors.New("queue index out of range")

// Queue 播放器的曲目队列
//
// 当前曲目不会同时出现在待播序列中。
type Queue struct {
	player *Player
	limit  int // 历史上限，0 为不限

	mu       sync.RWMutex
	tracks   []*model.Track
	current  *model.Track
	previous []*model.Track
}

func newQueue(p *Player, historyLimit int) *Queue {
	return &Queue{player: p, limit: historyLimit}
}

// Size 待播数量
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tracks)
}

// TotalSize 待播数量加上当前曲目
func (q *Queue) TotalSize() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.current != nil {
		return len(q.tracks) + 1
	}
	return len(q.tracks)
}

// IsEmpty 没有待播曲目
func (q *Queue) IsEmpty() bool {
	return q.Size() == 0
}

// Duration 待播曲目总时长（毫秒）
func (q *Queue) Duration() int64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var total int64
	for _, t := range q.tracks {
		total += t.Duration
	}
	return total
}

// Current 当前曲目
func (q *Queue) Current() *model.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// Tracks 待播曲目的拷贝
func (q *Queue) Tracks() []*model.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*model.Track(nil), q.tracks...)
}

// Previous 历史曲目的拷贝，最近的在末尾
func (q *Queue) Previous() []*model.Track {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*model.Track(nil), q.previous...)
}

// Add 追加曲目；没有当前曲目时第一首直接成为当前曲目
func (q *Queue) Add(tracks ...*model.Track) {
	if len(tracks) == 0 {
		return
	}
	q.mu.Lock()
	rest := tracks
	if q.current == nil {
		q.current = rest[0]
		rest = rest[1:]
	}
	q.tracks = append(q.tracks, rest...)
	q.mu.Unlock()

	q.player.client.emit(QueueAddEvent{Player: q.player, Queue: q, Tracks: tracks})
}

// Remove 删除指定下标的待播曲目
func (q *Queue) Remove(index int) (*model.Track, error) {
	q.mu.Lock()
	if index < 0 || index >= len(q.tracks) {
		n := len(q.tracks)
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: position must be between 0 and %d", ErrQueueIndex, n-1)
	}
	removed := q.tracks[index]
	q.tracks = append(q.tracks[:index], q.tracks[index+1:]...)
	q.mu.Unlock()

	q.player.client.emit(QueueRemoveEvent{Player: q.player, Queue: q, Track: removed, Index: index})
	return removed, nil
}

// Shuffle 随机打乱待播曲目
func (q *Queue) Shuffle() {
	q.mu.Lock()
	for i := len(q.tracks) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	}
	q.mu.Unlock()

	q.player.client.emit(QueueShuffleEvent{Player: q.player, Queue: q})
}

// Clear 清空待播曲目，当前曲目和历史不受影响
func (q *Queue) Clear() {
	q.mu.Lock()
	q.tracks = nil
	q.mu.Unlock()

	q.player.client.emit(QueueClearEvent{Player: q.player, Queue: q})
}

func (q *Queue) setCurrent(t *model.Track) {
	q.mu.Lock()
	q.current = t
	q.mu.Unlock()
}

// unshift 放回待播队首
func (q *Queue) unshift(t *model.Track) {
	q.mu.Lock()
	q.tracks = append([]*model.Track{t}, q.tracks...)
	q.mu.Unlock()
}

// push 放回待播队尾
func (q *Queue) push(t *model.Track) {
	q.mu.Lock()
	q.tracks = append(q.tracks, t)
	q.mu.Unlock()
}

// shift 取出待播队首
func (q *Queue) shift() *model.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tracks) == 0 {
		return nil
	}
	t := q.tracks[0]
	q.tracks = q.tracks[1:]
	return t
}

// retire 把当前曲目移入历史并清空当前
func (q *Queue) retire() *model.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.current
	q.current = nil
	if t == nil {
		return nil
	}
	q.previous = append(q.previous, t)
	if q.limit > 0 && len(q.previous) > q.limit {
		q.previous = q.previous[len(q.previous)-q.limit:]
	}
	return t
}

// popPrevious 取出最近一首历史曲目
func (q *Queue) popPrevious() *model.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.previous) == 0 {
		return nil
	}
	last := len(q.previous) - 1
	t := q.previous[last]
	q.previous = q.previous[:last]
	return t
}

// reset 清空当前曲目与历史
func (q *Queue) reset() {
	q.mu.Lock()
	q.current = nil
	q.previous = nil
	q.mu.Unlock()
}
