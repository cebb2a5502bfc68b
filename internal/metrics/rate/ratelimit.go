package rate

import (
	"net/http"
	"strings"

	"marketdash/internal/metrics"
	"marketdash/logger"
)

// ReportRateLimitExceeded records one rate limit event for the REST path.
func ReportRateLimitExceeded(log *logger.Log, path string) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{"exchange": "binance", "path": path}
	metrics.EmitMetric(log, "rest_client", "rate_limit_exceeded", int64(1), "counter", fields)
	log.WithComponent("rest_client").WithFields(fields).Warn("rate limit exceeded")
}

// ReportIPBan records one IP ban event for the REST path.
func ReportIPBan(log *logger.Log, path string) {
	if log == nil {
		log = logger.GetLogger()
	}
	fields := logger.Fields{"exchange": "binance", "path": path}
	metrics.EmitMetric(log, "rest_client", "ip_ban", int64(1), "counter", fields)
	log.WithComponent("rest_client").WithFields(fields).Error("ip banned")
}

// detectLimit classifies a Binance response. 429 signals a rate limit and 418
// an IP ban; the message text is checked for responses without those codes.
func detectLimit(status int, msg string) (rateLimit bool, ipBan bool) {
	switch status {
	case http.StatusTooManyRequests:
		return true, false
	case http.StatusTeapot:
		return false, true
	}
	lowerMsg := strings.ToLower(msg)
	rateLimit = strings.Contains(lowerMsg, "too many requests") || strings.Contains(lowerMsg, "rate limit")
	ipBan = strings.Contains(lowerMsg, "ip") && strings.Contains(lowerMsg, "ban")
	return
}

// ReportLimitFromResponse records rate limit or ban events found in a
// response status and body. It returns true when either was detected.
func ReportLimitFromResponse(log *logger.Log, path string, status int, body string) bool {
	rateLimit, ipBan := detectLimit(status, body)
	if rateLimit {
		ReportRateLimitExceeded(log, path)
	}
	if ipBan {
		ReportIPBan(log, path)
	}
	return rateLimit || ipBan
}
