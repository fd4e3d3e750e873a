package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrAllChannelsFailed means no channel delivered anything.
var ErrAllChannelsFailed = errors.New("notify: all channels failed")

// Dispatcher fans a markdown report out to every enabled channel. Each
// channel gets the body chunked to its own budget; one successful channel
// makes the dispatch a success.
type Dispatcher struct {
	channels []Channel
	sleep    func(ctx context.Context, d time.Duration)
}

// NewDispatcher builds a dispatcher over the given channels.
func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		sleep:    sleepCtx,
	}
}

// Enabled reports whether any channel is configured.
func (d *Dispatcher) Enabled() bool { return len(d.channels) > 0 }

// Dispatch delivers body to every channel, at most once per channel. A
// failed channel is logged and skipped; the error is non-nil only when
// every channel failed.
func (d *Dispatcher) Dispatch(ctx context.Context, body string) error {
	if len(d.channels) == 0 {
		return ErrAllChannelsFailed
	}
	delivered := false
	for _, ch := range d.channels {
		if err := d.sendChunked(ctx, ch, body); err != nil {
			log.Error().Err(err).Str("channel", ch.Name()).Msg("notification failed")
			continue
		}
		delivered = true
		log.Info().Str("channel", ch.Name()).Msg("notification delivered")
	}
	if !delivered {
		return ErrAllChannelsFailed
	}
	return nil
}

func (d *Dispatcher) sendChunked(ctx context.Context, ch Channel, body string) error {
	chunks := Chunk(body, ch.Budget())
	for i, chunk := range chunks {
		if i > 0 {
			d.sleep(ctx, interChunkDelay(ch.Name()))
		}
		if err := ch.Send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
