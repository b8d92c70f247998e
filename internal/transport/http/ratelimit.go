package http

import "golang.org/x/time/rate"

// sendLimiter bounds how fast one WebSocket connection may publish.
type sendLimiter struct {
	limiter *rate.Limiter
}

// newSendLimiter allows perSecond sends with bursts of burst. A
// non-positive rate disables the limit.
func newSendLimiter(perSecond float64, burst int) *sendLimiter {
	if perSecond <= 0 {
		return &sendLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &sendLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (s *sendLimiter) allow() bool {
	if s == nil || s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}
