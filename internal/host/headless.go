package host

import (
	"context"
	"time"

	"github.com/R3E-Network/miniapp-host/internal/logging"
)

// Headless serves the UI-side collaborators of the capability registry for
// hosts without a native surface: links, alerts and vibrations are logged.
type Headless struct {
	logger *logging.Logger
}

// NewHeadless creates a Headless bound to logger.
func NewHeadless(logger *logging.Logger) *Headless {
	return &Headless{logger: logger}
}

func (h *Headless) OpenURL(ctx context.Context, url string) error {
	h.logger.WithContext(ctx).WithField("url", url).Info("open url")
	return nil
}

func (h *Headless) Alert(ctx context.Context, title, message string) {
	h.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"title":   title,
		"message": message,
	}).Warn("alert")
}

func (h *Headless) Vibrate(ctx context.Context, pattern []time.Duration) error {
	ms := make([]int64, len(pattern))
	for i, d := range pattern {
		ms[i] = d.Milliseconds()
	}
	h.logger.WithContext(ctx).WithField("pattern_ms", ms).Debug("vibrate")
	return nil
}
