//go:build !nojsonsimd

package inventory

import "github.com/bytedance/sonic"

var fastJSON = sonic.ConfigStd

func decodeJSON(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}
