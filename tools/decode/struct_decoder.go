package decode

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 "123" -> string、1.0 -> int64 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// WithWeaklyTypedInput 便捷开关。
func WithWeaklyTypedInput(v bool) Options {
	return Options{WeaklyTypedInput: v}
}

// Map 将 map[string]any 解码到任意结构体 T，字段读取使用 `json` tag。
func Map[T any](m map[string]any, opts ...Options) (*T, error) {
	if m == nil {
		return nil, fmt.Errorf("payload is nil")
	}
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			floatToIntHook(),
			jsonRawStringToMapHook(),
		),
	}
	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}

// Raw 解码客户端事件的 data 字段（json.RawMessage）。
// 对象走 Map；裸字符串/数字时放进 scalarKey 字段，兼容 joinSession("id") 这种写法。
func Raw[T any](raw json.RawMessage, scalarKey string, opts ...Options) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("payload is empty")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("payload json: %w", err)
	}
	switch t := v.(type) {
	case map[string]any:
		return Map[T](t, opts...)
	case string, float64:
		if scalarKey == "" {
			return nil, fmt.Errorf("payload must be an object")
		}
		return Map[T](map[string]any{scalarKey: t}, opts...)
	default:
		return nil, fmt.Errorf("payload type %T not supported", v)
	}
}

// -----------------------------
// Decode Hooks
// -----------------------------

// floatToIntHook：把 float64 自动转为 int / int32 / int64。
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}

// jsonRawStringToMapHook：把 JSON 字符串自动转为 map[string]any（adminAction 的 payload 有时是字符串）。
func jsonRawStringToMapHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.Map {
			return data, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(data.(string)), &m); err == nil {
			return m, nil
		}
		return data, nil
	}
}
