package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/sketchpacks/plugin-catalog/pkg/catalog"
)

const (
	// DefaultBusSize is the buffer of a ChannelBus created with a size <= 0.
	DefaultBusSize = 64
	// DefaultSendTimeout bounds how long RequestInstall waits on a full buffer.
	DefaultSendTimeout = 5 * time.Second
)

// ErrBusFull is returned when a request could not be queued before the send
// timeout. The plugin stays eligible, so the next sync tick asks again.
var ErrBusFull = errors.New("install request bus is full")

// ChannelBus delivers install requests to an in-process lifecycle manager.
type ChannelBus struct {
	ch          chan InstallRequest
	sendTimeout time.Duration
}

// BusOption configures a ChannelBus.
type BusOption func(*ChannelBus)

// WithSendTimeout sets how long RequestInstall waits for buffer space.
// A value <= 0 keeps DefaultSendTimeout.
func WithSendTimeout(d time.Duration) BusOption {
	return func(b *ChannelBus) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// NewChannelBus creates a bus buffering up to size requests.
func NewChannelBus(size int, opts ...BusOption) *ChannelBus {
	if size <= 0 {
		size = DefaultBusSize
	}
	b := &ChannelBus{
		ch:          make(chan InstallRequest, size),
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RequestInstall queues an install request. While the buffer is full it waits
// until ctx is done or the send timeout passes, whichever comes first.
func (b *ChannelBus) RequestInstall(ctx context.Context, rec catalog.PluginRecord) error {
	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()

	select {
	case b.ch <- NewInstallRequest(rec):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrBusFull
	}
}

// Requests returns the receive side of the bus.
func (b *ChannelBus) Requests() <-chan InstallRequest {
	return b.ch
}
