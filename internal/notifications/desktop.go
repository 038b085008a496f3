package notifications

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// DesktopSender shows desktop toasts via beeep. Failures are logged and
// swallowed: a broken notification daemon must never affect chat delivery.
type DesktopSender struct {
	logger *slog.Logger
}

func NewDesktopSender(logger *slog.Logger) *DesktopSender {
	return &DesktopSender{logger: logger}
}

func (s *DesktopSender) Send(payload Payload) {
	if err := beeep.Notify(payload.Title, payload.Content, ""); err != nil {
		s.logger.Warn("send desktop notification", "title", payload.Title, "error", err)
	}
}
