// Package codec 解码/编码节点的曲目句柄（base64 编码的二进制结构）
package codec

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"Tidelink/model"
)

// ErrMalformed 句柄结构错误（截断、长度前缀越界等）
var ErrMalformed = errors.New("malformed track handle")

// Decode 按紧凑布局解码句柄
//
// 布局: int32 长度/标志字（忽略）, byte 版本, title, author, int64 时长,
// identifier, byte 直播标记, uri, byte+artworkUrl, byte+isrc, sourceName。
// 失败时不返回任何部分结果。
func Decode(encoded string) (*model.RawTrack, error) {
	buf, err := decodeBase64(encoded)
	if err != nil {
		return nil, err
	}

	r := &reader{buf: buf}
	r.int32()
	r.byte()

	info := model.TrackInfo{IsSeekable: true}
	info.Title = r.utf()
	info.Author = r.utf()
	info.Length = r.int64()
	info.Identifier = r.utf()
	info.IsStream = r.byte() == 1
	info.URI = r.utf()
	if r.byte() == 1 {
		info.ArtworkURL = r.utf()
	}
	if r.byte() == 1 {
		info.ISRC = r.utf()
	}
	info.SourceName = strings.ToLower(r.utf())

	if r.err != nil {
		return nil, r.err
	}
	return &model.RawTrack{Encoded: encoded, Info: info, PluginInfo: map[string]any{}}, nil
}

// Encode 按紧凑布局编码，主要用于测试和命令行工具
func Encode(info model.TrackInfo) (string, error) {
	w := &writer{}
	w.byte(1)
	w.utf(info.Title)
	w.utf(info.Author)
	w.int64(info.Length)
	w.utf(info.Identifier)
	w.bool(info.IsStream)
	w.utf(info.URI)
	w.optionalUTF(info.ArtworkURL)
	w.optionalUTF(info.ISRC)
	w.utf(info.SourceName)
	if w.err != nil {
		return "", w.err
	}
	return base64.StdEncoding.EncodeToString(w.frame(0)), nil
}

func decodeBase64(encoded string) ([]byte, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// 部分节点输出不带填充的 base64
		if buf, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return buf, nil
}

// reader 顺序读取，遇到第一个错误后所有读取返回零值
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.pos, len(r.buf)-r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bool() bool {
	return r.byte() != 0
}

func (r *reader) int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *reader) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *reader) utf() string {
	b := r.take(2)
	if b == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(b))))
}

func (r *reader) remaining() int {
	return len(r.buf) - r.pos
}

type writer struct {
	buf []byte
	err error
}

func (w *writer) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) bool(v bool) {
	if v {
		w.byte(1)
		return
	}
	w.byte(0)
}

func (w *writer) int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *writer) utf(s string) {
	if len(s) > math.MaxUint16 {
		w.err = fmt.Errorf("string of %d bytes does not fit a handle field", len(s))
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) optionalUTF(s string) {
	w.bool(s != "")
	if s != "" {
		w.utf(s)
	}
}

// frame 在内容前加上 int32 长度/标志字
func (w *writer) frame(flags uint32) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(len(w.buf))|flags<<30)
	return append(out, w.buf...)
}
