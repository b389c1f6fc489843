package link

import (
	"context"
	"errors"
	"sync"

	"Tidelink/model"
)

// ErrInvalidFilterVolume 滤镜音量超出 0..5
var ErrInvalidFilterVolume = errors.New("filter volume must be between 0 and 5")

// Filter 播放器滤镜；每次修改都会下发完整的滤镜集合
type Filter struct {
	player *Player

	mu      sync.Mutex
	filters model.Filters
}

func newFilter(p *Player) *Filter {
	return &Filter{player: p}
}

// Current 当前滤镜集合
func (f *Filter) Current() model.Filters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filters
}

// apply 修改副本并下发，成功后才替换本地状态
func (f *Filter) apply(ctx context.Context, mutate func(*model.Filters)) error {
	f.mu.Lock()
	next := f.filters
	mutate(&next)
	f.mu.Unlock()

	if err := f.player.Send(ctx, model.UpdatePlayerOptions{Filters: &next}, false); err != nil {
		return err
	}
	f.mu.Lock()
	f.filters = next
	f.mu.Unlock()
	return nil
}

// SetRaw 整体替换
func (f *Filter) SetRaw(ctx context.Context, filters model.Filters) error {
	return f.apply(ctx, func(cur *model.Filters) { *cur = filters })
}

// Clear 清空全部滤镜
func (f *Filter) Clear(ctx context.Context) error {
	return f.SetRaw(ctx, model.Filters{})
}

func (f *Filter) SetVolume(ctx context.Context, volume float64) error {
	if volume < 0 || volume > 5 {
		return ErrInvalidFilterVolume
	}
	return f.apply(ctx, func(cur *model.Filters) { cur.Volume = &volume })
}

// SetEqualizer bands 为空时移除均衡器
func (f *Filter) SetEqualizer(ctx context.Context, bands []model.Band) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.Equalizer = append([]model.Band(nil), bands...) })
}

func (f *Filter) SetKaraoke(ctx context.Context, k *model.Karaoke) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.Karaoke = k })
}

func (f *Filter) SetTimescale(ctx context.Context, t *model.Timescale) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.Timescale = t })
}

func (f *Filter) SetTremolo(ctx context.Context, w *model.Wave) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.Tremolo = w })
}

func (f *Filter) SetVibrato(ctx context.Context, w *model.Wave) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.Vibrato = w })
}

func (f *Filter) SetRotation(ctx context.Context, r *model.Rotation) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.Rotation = r })
}

func (f *Filter) SetDistortion(ctx context.Context, d *model.Distortion) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.Distortion = d })
}

func (f *Filter) SetChannelMix(ctx context.Context, c *model.ChannelMix) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.ChannelMix = c })
}

func (f *Filter) SetLowPass(ctx context.Context, l *model.LowPass) error {
	return f.apply(ctx, func(cur *model.Filters) { cur.LowPass = l })
}

// SetNightcore 以相同倍率提高速度和音调，rate 为 1 时恢复
func (f *Filter) SetNightcore(ctx context.Context, rate float64) error {
	if rate == 1 {
		return f.SetTimescale(ctx, nil)
	}
	return f.SetTimescale(ctx, &model.Timescale{Speed: model.Ptr(rate), Pitch: model.Ptr(rate)})
}
