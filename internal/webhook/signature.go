package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifySignature 校验 x-signature 头（ts=...,v1=...）。
// 签名内容为 "id:<data.id>;request-id:<x-request-id>;ts:<ts>;"，HMAC-SHA256，十六进制。
func VerifySignature(secret, header, requestID, dataID string) bool {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return false
	}
	want, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest(dataID, requestID, ts)))
	return hmac.Equal(mac.Sum(nil), want)
}

func manifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		fmt.Fprintf(&b, "id:%s;", strings.ToLower(dataID))
	}
	if requestID != "" {
		fmt.Fprintf(&b, "request-id:%s;", requestID)
	}
	fmt.Fprintf(&b, "ts:%s;", ts)
	return b.String()
}

// Sign 生成与 VerifySignature 对应的头，测试和本地联调用。
func Sign(secret, requestID, dataID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest(dataID, requestID, ts)))
	return fmt.Sprintf("ts=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
