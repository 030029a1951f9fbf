package api

import "github.com/bytedance/sonic"

func sonicMarshal(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}
