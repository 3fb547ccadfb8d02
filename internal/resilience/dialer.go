package resilience

import (
	"context"

	"github.com/MrWong99/voxgate/pkg/provider"
)

// Compile-time interface check.
var _ provider.Dialer = (*GuardedDialer)(nil)

// GuardedDialer wraps a provider dialer with a [Breaker], so calls fast-fail
// while the provider endpoint is down instead of each one waiting out a dial
// timeout.
type GuardedDialer struct {
	dialer  provider.Dialer
	breaker *Breaker
}

// Guard wraps dialer with a breaker configured by cfg. The breaker counts
// only connection establishment; an established call that later fails does
// not trip it.
func Guard(dialer provider.Dialer, cfg BreakerConfig) *GuardedDialer {
	return &GuardedDialer{dialer: dialer, breaker: NewBreaker(cfg)}
}

// Dial implements [provider.Dialer].
func (d *GuardedDialer) Dial(ctx context.Context, settings provider.Settings) (provider.Conn, error) {
	var conn provider.Conn
	err := d.breaker.Do(func() error {
		var err error
		conn, err = d.dialer.Dial(ctx, settings)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// State exposes the breaker state, for diagnostics.
func (d *GuardedDialer) State() State {
	return d.breaker.State()
}
