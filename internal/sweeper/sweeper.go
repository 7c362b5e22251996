package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/vendornet/stockcore/internal/reservation"
	"github.com/vendornet/stockcore/pkg/logger"
	"github.com/vendornet/stockcore/pkg/metrics"
)

const (
	defaultBatchSize = 200
	defaultRetention = 168 * time.Hour
)

// SweeperParams configure the reservation expiry sweeper.
type SweeperParams struct {
	Logger    *logger.Logger
	Repo      reservation.Repository
	Engine    reservation.Engine
	Metrics   *metrics.ReservationMetrics
	BatchSize int
	// Retention bounds how long released and expired reservations stay
	// around for auditing before the purge removes them. Committed
	// reservations are never purged.
	Retention time.Duration
	Now       func() time.Time
}

// Sweeper expires overdue active reservations, returning their stock to
// the sellable pool, and trims old terminal reservations.
type Sweeper struct {
	logg      *logger.Logger
	repo      reservation.Repository
	engine    reservation.Engine
	metrics   *metrics.ReservationMetrics
	batchSize int
	retention time.Duration
	now       func() time.Time
}

// NewSweeper builds a reservation expiry sweeper.
func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reservation engine required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultBatchSize
	}
	if params.Retention <= 0 {
		params.Retention = defaultRetention
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Sweeper{
		logg:      params.Logger,
		repo:      params.Repo,
		engine:    params.Engine,
		metrics:   params.Metrics,
		batchSize: params.BatchSize,
		retention: params.Retention,
		now:       params.Now,
	}, nil
}

func (s *Sweeper) Name() string { return "reservation-sweeper" }

// Run expires one batch of overdue reservations, then purges terminal
// reservations past retention. Each reservation expires in its own
// transaction so a conflict on one hold cannot block the rest.
func (s *Sweeper) Run(ctx context.Context) error {
	now := s.now().UTC()

	overdue, err := s.repo.ListActiveExpiredBefore(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("query overdue reservations: %w", err)
	}

	var errs []error
	expired := 0
	for _, resv := range overdue {
		if err := s.engine.ExpireReservation(ctx, resv.ID); err != nil {
			resvCtx := s.logg.WithReservationID(ctx, resv.ID.String())
			s.logg.Error(resvCtx, "expire reservation failed", err)
			errs = append(errs, fmt.Errorf("reservation %s: %w", resv.ID, err))
			continue
		}
		expired++
		s.metrics.IncExpired()
	}
	if expired > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", expired), "overdue reservations expired")
	}

	purged, err := s.repo.PurgeTerminalBefore(ctx, now.Add(-s.retention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purge terminal reservations: %w", err))
	} else if purged > 0 {
		s.logg.Info(s.logg.WithField(ctx, "purged", purged), "terminal reservations purged")
	}

	return multierr.Combine(errs...)
}
