package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vendornet/stockcore/internal/ledger"
	"github.com/vendornet/stockcore/internal/vendors"
	"github.com/vendornet/stockcore/pkg/geo"
	"github.com/vendornet/stockcore/pkg/logger"
)

// Candidate is one ranked vendor option for a (product, zone) query.
type Candidate struct {
	VendorID   uuid.UUID `json:"vendor_id"`
	DistanceKm float64   `json:"distance_km"`
	Rating     float64   `json:"rating"`
	SLAMinutes int       `json:"sla_minutes"`
	Available  int       `json:"available"`
	Score      float64   `json:"score"`
}

// RankQuery scopes a ranking request.
type RankQuery struct {
	ProductID uuid.UUID
	Zone      string
	Customer  geo.Point
}

// Service ranks candidate vendors for a reservation attempt. The ranking is
// advisory iteration order only; availability is re-checked transactionally
// at reservation time regardless of what the ranking said.
type Service interface {
	Rank(ctx context.Context, query RankQuery) ([]Candidate, error)
	RankCached(ctx context.Context, query RankQuery) ([]Candidate, error)
	Availability(ctx context.Context, query RankQuery) ([]Candidate, error)
}

// RankingCache is the slice of the redis client the selector needs.
type RankingCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	RankingKey(productID, zone string) string
}

type service struct {
	vendorRepo vendors.Repository
	stock      ledger.Service
	cache      RankingCache
	cacheTTL   time.Duration
	isCacheNil func(error) bool
	logg       *logger.Logger
}

// Config wires the selector's collaborators. Cache is optional: without it
// RankCached falls through to a fresh computation.
type Config struct {
	VendorRepo vendors.Repository
	Stock      ledger.Service
	Cache      RankingCache
	CacheTTL   time.Duration
	IsCacheNil func(error) bool
	Logger     *logger.Logger
}

// NewService wires a vendor priority selector.
func NewService(cfg Config) (Service, error) {
	if cfg.VendorRepo == nil {
		return nil, fmt.Errorf("vendor repository required")
	}
	if cfg.Stock == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.IsCacheNil == nil {
		cfg.IsCacheNil = func(error) bool { return false }
	}
	return &service{
		vendorRepo: cfg.VendorRepo,
		stock:      cfg.Stock,
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		isCacheNil: cfg.IsCacheNil,
		logg:       cfg.Logger,
	}, nil
}

// Rank computes a fresh ranking: approved vendors covering the zone, with
// positive available stock, ordered by distance, then rating, then SLA
// window, then lowest vendor id so equal scores stay deterministic.
func (s *service) Rank(ctx context.Context, query RankQuery) ([]Candidate, error) {
	candidates, err := s.collect(ctx, query)
	if err != nil {
		return nil, err
	}
	ranked := candidates[:0]
	for _, c := range candidates {
		if c.Available > 0 {
			ranked = append(ranked, c)
		}
	}
	sortCandidates(ranked)
	return ranked, nil
}

// RankCached serves the ranking from redis within the TTL. Cache problems
// degrade to a fresh computation, never to an error.
func (s *service) RankCached(ctx context.Context, query RankQuery) ([]Candidate, error) {
	if s.cache == nil {
		return s.Rank(ctx, query)
	}
	key := s.cache.RankingKey(query.ProductID.String(), query.Zone)

	raw, err := s.cache.Get(ctx, key)
	if err == nil && raw != "" {
		var cached []Candidate
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return cached, nil
		}
	} else if err != nil && !s.isCacheNil(err) && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "ranking cache read failed")
	}

	ranked, err := s.Rank(ctx, query)
	if err != nil {
		return nil, err
	}
	if payload, jsonErr := json.Marshal(ranked); jsonErr == nil {
		if setErr := s.cache.Set(ctx, key, string(payload), s.cacheTTL); setErr != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", setErr.Error()), "ranking cache write failed")
		}
	}
	return ranked, nil
}

// Availability reports every stocked vendor for the product in the zone,
// zero-available vendors included, ordered by distance.
func (s *service) Availability(ctx context.Context, query RankQuery) ([]Candidate, error) {
	candidates, err := s.collect(ctx, query)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)
	return candidates, nil
}

func (s *service) collect(ctx context.Context, query RankQuery) ([]Candidate, error) {
	approved, err := s.vendorRepo.ListApprovedInZone(ctx, query.Zone)
	if err != nil {
		return nil, err
	}
	if len(approved) == 0 {
		return []Candidate{}, nil
	}

	vendorIDs := make([]uuid.UUID, 0, len(approved))
	for _, v := range approved {
		vendorIDs = append(vendorIDs, v.ID)
	}
	available, err := s.stock.Availability(ctx, query.ProductID, vendorIDs)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(approved))
	for _, v := range approved {
		avail, carries := available[v.ID]
		if !carries {
			continue
		}
		distance := geo.DistanceKm(query.Customer, geo.Point{Lat: v.Lat, Lng: v.Lng})
		candidates = append(candidates, Candidate{
			VendorID:   v.ID,
			DistanceKm: distance,
			Rating:     v.Rating,
			SLAMinutes: v.SLAMinutes,
			Available:  avail,
			Score:      score(distance, v.Rating, v.SLAMinutes),
		})
	}
	return candidates, nil
}

// score folds the signals into one comparable number for display and
// caching. Lower is better. Distance dominates, rating discounts up to
// 5km, a tight SLA window shaves a little more.
func score(distanceKm, rating float64, slaMinutes int) float64 {
	return distanceKm - rating + float64(slaMinutes)/60.0
}

func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.SLAMinutes != b.SLAMinutes {
			return a.SLAMinutes < b.SLAMinutes
		}
		return a.VendorID.String() < b.VendorID.String()
	})
}
