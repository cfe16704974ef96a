package connection

import (
	"log/slog"
	"time"

	"crypto_feed/internal/domain"
	"crypto_feed/internal/infra"
)

// Deps are the collaborators injected into every exchange connector.
// Nil fields get defaults.
type Deps struct {
	Logger  *slog.Logger
	Metrics *infra.Metrics
	OnState domain.StateHook
	Dialer  Dialer
	// Clock stamps events the exchange sends without a timestamp.
	Clock func() time.Time
}

// WithDefaults fills nil fields.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = infra.NewMetrics()
	}
	if d.Dialer == nil {
		d.Dialer = WebsocketDialer{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return d
}
