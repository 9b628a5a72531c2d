package capability

import (
	"context"
	"encoding/json"
	"time"
)

const ms = time.Millisecond

var impactPatterns = map[string][]time.Duration{
	"light":  {10 * ms},
	"medium": {20 * ms},
	"heavy":  {40 * ms},
	"soft":   {15 * ms},
	"rigid":  {30 * ms},
}

var notificationPatterns = map[string][]time.Duration{
	"success": {20 * ms, 60 * ms, 20 * ms},
	"warning": {30 * ms, 80 * ms, 30 * ms},
	"error":   {50 * ms, 80 * ms, 50 * ms, 80 * ms, 50 * ms},
}

var selectionPattern = []time.Duration{5 * ms}

// ImpactPattern returns the vibration for an impact style; unknown styles
// fall back to medium.
func ImpactPattern(style string) []time.Duration {
	if p, ok := impactPatterns[style]; ok {
		return p
	}
	return impactPatterns["medium"]
}

// NotificationPattern returns the vibration for a notification type; unknown
// types fall back to success.
func NotificationPattern(kind string) []time.Duration {
	if p, ok := notificationPatterns[kind]; ok {
		return p
	}
	return notificationPatterns["success"]
}

// Haptic operations never fail.

func (r *Registry) impactOccurred(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Style string `json:"style"`
	}
	_ = decode(params, &p)
	r.vibrate(ctx, ImpactPattern(p.Style))
	return nil, nil
}

func (r *Registry) notificationOccurred(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p struct {
		Type string `json:"type"`
	}
	_ = decode(params, &p)
	r.vibrate(ctx, NotificationPattern(p.Type))
	return nil, nil
}

func (r *Registry) selectionChanged(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	r.vibrate(ctx, selectionPattern)
	return nil, nil
}

func (r *Registry) vibrate(ctx context.Context, pattern []time.Duration) {
	if r.deps.Haptics == nil || !r.deps.Client.Haptics {
		return
	}
	if err := r.deps.Haptics.Vibrate(ctx, pattern); err != nil {
		r.deps.Logger.WithContext(ctx).WithError(err).Debug("vibration failed")
	}
}
