package router

import (
	"net/http"

	"abada_sales/internal/apperr"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindPreconditionFailed, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidQuantity, apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindUpstream:
		return http.StatusBadGateway
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail 按错误类别输出 {"code": <http>, "msg": ...}；5xx 记错误日志。
func fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"path": c.FullPath(),
			"kind": kind.String(),
		}).Error("request failed")
	}
	c.JSON(status, gin.H{"code": status, "msg": apperr.Message(err), "kind": kind.String()})
}
