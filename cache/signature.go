package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const signaturePrefix = "cf:sig:"

// signatureInput 归一化后的签名输入
// encoding/json 对 map 键排序，保证同一输入序列化结果确定
type signatureInput struct {
	Payload json.RawMessage `json:"p"`
	Outputs []string        `json:"o"`
	Params  map[string]any  `json:"c,omitempty"`
}

// Signature 计算工作项的内容签名
// 输出格式列表会去空白、转小写、去重并排序，因此顺序不同的同一请求签名一致
func Signature(payload any, outputSpec []string, params map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		// fallback: 使用 fmt.Sprintf 生成确定性字符串避免 key 碰撞
		raw, _ = json.Marshal(fmt.Sprintf("%T:%#v", payload, payload))
	}

	in := signatureInput{
		Payload: raw,
		Outputs: normalizeOutputs(outputSpec),
		Params:  params,
	}
	data, err := json.Marshal(in)
	if err != nil {
		data = []byte(fmt.Sprintf("%s|%v|%#v", raw, in.Outputs, params))
	}

	hash := sha256.Sum256(data)
	return signaturePrefix + hex.EncodeToString(hash[:16]) // 使用前 16 字节
}

func normalizeOutputs(outputs []string) []string {
	seen := make(map[string]struct{}, len(outputs))
	result := make([]string, 0, len(outputs))
	for _, o := range outputs {
		o = strings.ToLower(strings.TrimSpace(o))
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		result = append(result, o)
	}
	sort.Strings(result)
	return result
}
