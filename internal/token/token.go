// Package token 负责核销 token 的生成与解析。
package token

import (
	"crypto/rand"
	"encoding/base32"
	"net/url"
	"strings"
)

// 15 字节随机数 → 24 位 base32（A-Z2-7），大小写不敏感，适合二维码与手工输入。
const tokenBytes = 15

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Generate 生成一个新的核销 token。碰撞概率可忽略，真正的兜底是存储层唯一约束。
func Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return encoding.EncodeToString(b), nil
}

func allowed(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// Normalize 处理客户端传入的 token：去空白、URL 解码、剔除白名单外字符。保留原始大小写。
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if decoded, err := url.QueryUnescape(s); err == nil {
		s = strings.TrimSpace(decoded)
	}
	return strings.Map(func(r rune) rune {
		if allowed(r) {
			return r
		}
		return -1
	}, s)
}

// Candidates 返回按顺序尝试的查找形式：去空白后的原文、规范化结果、规范化后的大写形式。
func Candidates(raw string) []string {
	literal := strings.TrimSpace(raw)
	normalized := Normalize(raw)
	out := make([]string, 0, 3)
	seen := make(map[string]bool, 3)
	for _, c := range []string{literal, normalized, strings.ToUpper(normalized)} {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
