package driver

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	snakeKey    = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)*$`)
	separatedRe = regexp.MustCompile(`[-_][a-z]`)
)

// CamelToSnake 递归转换 map 键为 snake_case，返回新树，不修改输入
//
// 已是 snake_case 的键原样保留。
func CamelToSnake(v any) any {
	return transformKeys(v, camelKeyToSnake)
}

// SnakeToCamel 递归转换 map 键为 camelCase，只处理含 -x / _x 的键
func SnakeToCamel(v any) any {
	return transformKeys(v, snakeKeyToCamel)
}

func transformKeys(v any, convert func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[convert(k)] = transformKeys(val, convert)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = transformKeys(val, convert)
		}
		return out
	default:
		return v
	}
}

func camelKeyToSnake(k string) string {
	if snakeKey.MatchString(k) {
		return k
	}
	var sb strings.Builder
	for _, r := range k {
		if unicode.IsUpper(r) {
			sb.WriteByte('_')
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func snakeKeyToCamel(k string) string {
	if !separatedRe.MatchString(k) {
		return k
	}
	return separatedRe.ReplaceAllStringFunc(strings.ToLower(k), func(m string) string {
		return strings.ToUpper(m[1:])
	})
}
