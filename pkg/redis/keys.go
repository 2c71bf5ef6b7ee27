package redis

import "fmt"

// RateLimitKey 限流 key：scope 区分接口组，subject 通常是客户端 IP。
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("abada:rate_limit:%s:%s", scope, subject)
}

// WebhookClaimKey 标记某次通知投递（payment id + 通道的 request id）已被处理。
func WebhookClaimKey(paymentID, deliveryID string) string {
	return fmt.Sprintf("abada:webhook:claim:%s:%s", paymentID, deliveryID)
}

// WebhookStateKey 存储某个 payment id 最近一次通知的处理结果。
func WebhookStateKey(paymentID string) string {
	return fmt.Sprintf("abada:webhook:state:%s", paymentID)
}
