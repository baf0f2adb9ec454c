package wfs

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/wfsctl/internal/observability"
)

// monitor probes liveness every ProbeInterval and reconnects once the
// failure count exceeds MaxProbeFailures. It exits when ctx is cancelled or
// the session is closed.
func (s *session) monitor(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.cfg.ProbeInterval)
	defer timer.Stop()

	last := StateHealthy
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if s.closed.Load() {
			return
		}
		last = s.observe(last, s.state())
		s.tick(ctx)
		last = s.observe(last, s.state())
		timer.Reset(s.cfg.ProbeInterval)
	}
}

// tick is one monitor iteration after the sleep.
func (s *session) tick(ctx context.Context) {
	if s.failures.Load() <= int64(s.cfg.MaxProbeFailures) {
		s.probe(ctx)
		return
	}

	var err error
	if !s.with(func() { _, err = s.reconnectLocked(ctx) }) {
		return
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrMissingCredentials):
		if !s.warnedMissing.Swap(true) {
			s.logger.Error().Err(err).Msg("session cannot recover until reopened")
		}
	default:
		s.logger.Warn().Err(err).Int64("failures", s.failures.Load()).Msg("reconnect failed")
	}
}

// probe counts a failure up front and clears it only when the ping comes
// back healthy, so a probe that never returns still leaves the count raised.
func (s *session) probe(ctx context.Context) uint8 {
	if !s.with(func() { s.failures.Add(1) }) {
		return 0
	}
	var code uint8
	if !s.with(func() { code = s.pingLocked(ctx) }) {
		return 0
	}
	observability.RecordProbe(code > 0)
	return code
}

func (s *session) observe(from, to State) State {
	if from == to {
		return to
	}
	observability.RecordTransition(from.String(), to.String())
	s.logger.Info().
		Str("from", from.String()).
		Str("to", to.String()).
		Int64("failures", s.failures.Load()).
		Msg("state change")
	return to
}
