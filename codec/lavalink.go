package codec

import (
	"encoding/base64"

	"Tidelink/model"
)

// trackInfoVersioned 标志字高两位中的版本位
const trackInfoVersioned = 1

// DecodeLavalink 按 Lavalink 的版本化布局解码句柄（版本 1 到 3）
//
// 版本 2 起 uri 可为空，版本 3 起带 artworkUrl 与 isrc。
// 来源特有的附加字段不解析，结尾 8 字节为播放位置。
func DecodeLavalink(encoded string) (*model.RawTrack, error) {
	buf, err := decodeBase64(encoded)
	if err != nil {
		return nil, err
	}

	r := &reader{buf: buf}
	flags := uint32(r.int32()) >> 30
	version := byte(1)
	if flags&trackInfoVersioned != 0 {
		version = r.byte()
	}

	info := model.TrackInfo{}
	info.Title = r.utf()
	info.Author = r.utf()
	info.Length = r.int64()
	info.Identifier = r.utf()
	info.IsStream = r.bool()
	info.IsSeekable = !info.IsStream
	if version >= 2 {
		info.URI = r.nullableUTF()
	} else {
		info.URI = r.utf()
	}
	if version >= 3 {
		info.ArtworkURL = r.nullableUTF()
		info.ISRC = r.nullableUTF()
	}
	info.SourceName = r.utf()

	if r.err != nil {
		return nil, r.err
	}
	if r.remaining() >= 8 {
		r.pos = len(r.buf) - 8
		info.Position = r.int64()
	}
	return &model.RawTrack{Encoded: encoded, Info: info, PluginInfo: map[string]any{}}, nil
}

// EncodeLavalink 按版本 3 布局编码
func EncodeLavalink(info model.TrackInfo) (string, error) {
	w := &writer{}
	w.byte(3)
	w.utf(info.Title)
	w.utf(info.Author)
	w.int64(info.Length)
	w.utf(info.Identifier)
	w.bool(info.IsStream)
	w.optionalUTF(info.URI)
	w.optionalUTF(info.ArtworkURL)
	w.optionalUTF(info.ISRC)
	w.utf(info.SourceName)
	w.int64(info.Position)
	if w.err != nil {
		return "", w.err
	}
	return base64.StdEncoding.EncodeToString(w.frame(trackInfoVersioned)), nil
}

func (r *reader) nullableUTF() string {
	if !r.bool() {
		return ""
	}
	return r.utf()
}
