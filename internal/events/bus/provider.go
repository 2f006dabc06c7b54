package bus

import (
	"github.com/tradewatch/tradewatch/internal/common/config"
	"github.com/tradewatch/tradewatch/internal/common/logger"
)

// New selects the event bus implementation from configuration: NATS when a
// URL is set, the in-memory bus otherwise.
func New(cfg config.NATSConfig, log *logger.Logger) (EventBus, error) {
	if cfg.URL == "" {
		return NewMemoryEventBus(log), nil
	}
	return NewNATSEventBus(cfg, log)
}
