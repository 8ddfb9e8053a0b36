// Package codec 提供信封的 JSON 编解码
package codec

import (
	"github.com/bytedance/sonic"
)

// Marshal 将对象编码为 JSON 字节
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal 将 JSON 字节解码为对象
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// MarshalString 将对象编码为 JSON 字符串
func MarshalString(v any) (string, error) {
	bytes, err := sonic.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Decode 将 JSON 字节解码为指定类型
func Decode[T any](data []byte) (T, error) {
	var v T
	err := sonic.Unmarshal(data, &v)
	return v, err
}
