// Package webhook 处理支付通道的异步通知：解析 payment id，交给对账服务，永远回 200。
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// lastDigitRun 返回 s 中最后一段连续数字。
func lastDigitRun(s string) string {
	end := -1
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c >= '0' && c <= '9' {
			if end < 0 {
				end = i + 1
			}
			continue
		}
		if end >= 0 {
			return s[i+1 : end]
		}
	}
	if end >= 0 {
		return s[:end]
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// Topic 通知类型，query 优先于 body。
func Topic(query url.Values, body map[string]any) string {
	for _, k := range []string{"type", "topic"} {
		if v := query.Get(k); v != "" {
			return strings.ToLower(v)
		}
	}
	for _, k := range []string{"type", "topic", "action"} {
		if v := stringify(body[k]); v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func decodeBody(raw []byte) map[string]any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}

// ExtractPaymentID 从通知的各种形态里取 payment id：
// 裸 id、以 id 结尾的资源 URL、路径片段都按"最后一段连续数字"解析。
// merchant_order 等非支付类通知直接忽略。
func ExtractPaymentID(query url.Values, raw []byte) (string, bool) {
	body := decodeBody(raw)
	if strings.Contains(Topic(query, body), "merchant_order") {
		return "", false
	}

	candidates := []string{query.Get("data.id"), query.Get("id")}
	if body != nil {
		if data, ok := body["data"].(map[string]any); ok {
			candidates = append(candidates, stringify(data["id"]))
		}
		candidates = append(candidates, stringify(body["id"]), stringify(body["resource"]))
	} else {
		candidates = append(candidates, string(raw))
	}

	for _, c := range candidates {
		if id := lastDigitRun(strings.TrimSpace(c)); id != "" {
			return id, true
		}
	}
	return "", false
}
