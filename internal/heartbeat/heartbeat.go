package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"screen-recorder/internal/media"
	"screen-recorder/internal/monitor"
	"screen-recorder/internal/observability"
	"screen-recorder/internal/session"
)

// DefaultInterval is how often a running recording is checked.
const DefaultInterval = 5 * time.Second

// Recording is the part of the session the heartbeat watches.
type Recording interface {
	State() session.State
	Params() (media.RecordingParameters, bool)
	Stop(destroyGrant bool)
}

type SpaceChecker interface {
	CheckFreeSpace(ctx context.Context, path string) error
}

// Service periodically checks the volume of a running recording and stops
// the recording before the disk fills up.
type Service struct {
	rec      Recording
	space    SpaceChecker
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func New(rec Recording, space SpaceChecker, interval time.Duration, metrics *observability.Metrics, logger *zerolog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "heartbeat").Logger()
	}
	return &Service{rec: rec, space: space, interval: interval, metrics: metrics, logger: l}
}

// Start launches the check loop; it ends when ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		s.logger.Debug().Dur("interval", s.interval).Msg("heartbeat started")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.beat(ctx)
			}
		}
	}()
}

func (s *Service) beat(ctx context.Context) {
	if s.rec.State() != session.StateRecording {
		return
	}
	params, ok := s.rec.Params()
	if !ok {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	err := s.space.CheckFreeSpace(checkCtx, params.OutputPath)
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrInsufficientSpace):
		s.logger.Warn().Err(err).Str("output", params.OutputPath).Msg("stopping recording, output volume is full")
		s.metrics.LowSpaceStop()
		s.rec.Stop(false)
	default:
		s.logger.Warn().Err(err).Msg("free space check failed")
	}
}
