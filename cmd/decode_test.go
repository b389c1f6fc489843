package cmd

import (
	"testing"

	"Tidelink/codec"
	"Tidelink/model"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeHandle(t *testing.T) {
	info := model.TrackInfo{
		Identifier: "dQw4w9WgXcQ",
		Author:     "Rick Astley",
		Length:     212000,
		Title:      "Never Gonna Give You Up",
		URI:        "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		SourceName: "youtube",
	}
	lavalink, err := codec.EncodeLavalink(info)
	if err != nil {
		t.Fatal(err)
	}
	compact, err := codec.Encode(info)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		encoded string
		layout  string
	}{
		{"auto lavalink", lavalink, "auto"},
		{"explicit lavalink", lavalink, "lavalink"},
		{"explicit frequenc", compact, "frequenc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := decodeHandle(tt.encoded, tt.layout)
			if err != nil {
				t.Fatal(err)
			}
			got := []string{raw.Info.Identifier, raw.Info.Author, raw.Info.Title, raw.Info.URI, raw.Info.SourceName}
			want := []string{info.Identifier, info.Author, info.Title, info.URI, info.SourceName}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("decoded mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := decodeHandle(lavalink, "mp3"); err == nil {
		t.Error("unknown layout accepted")
	}
	if _, err := decodeHandle("not base64!", "auto"); err == nil {
		t.Error("garbage handle accepted")
	}
}
