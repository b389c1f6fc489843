package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"Tidelink/codec"
	"Tidelink/model"

	"github.com/spf13/cobra"
)

var decodeLayout string

var decodeCmd = &cobra.Command{
	Use:   "decode <encoded>",
	Short: "解码曲目句柄",
	Long:  `在本地解码节点返回的 base64 曲目句柄并以 JSON 输出。layout 为 auto 时先按 Lavalink 布局解析，失败再按 FrequenC 布局解析。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := decodeHandle(args[0], decodeLayout)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(raw)
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeLayout, "layout", "auto", "句柄布局：auto | lavalink | frequenc")
	rootCmd.AddCommand(decodeCmd)
}

func decodeHandle(encoded, layout string) (*model.RawTrack, error) {
	switch layout {
	case "lavalink":
		return codec.DecodeLavalink(encoded)
	case "frequenc":
		return codec.Decode(encoded)
	case "auto":
		if raw, err := codec.DecodeLavalink(encoded); err == nil {
			return raw, nil
		}
		return codec.Decode(encoded)
	default:
		return nil, fmt.Errorf("unknown layout %q", layout)
	}
}
