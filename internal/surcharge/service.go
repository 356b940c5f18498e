package surcharge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-insurance/internal/common"
	"github.com/noah-isme/backend-insurance/internal/events"
	"github.com/noah-isme/backend-insurance/internal/obs"
)

var (
	// ErrEmptyBatch is returned when an upload carries no rates.
	ErrEmptyBatch = fmt.Errorf("surcharge: rates are required: %w", common.ErrInvalidInput)
	// ErrInvalidRate is returned when a rate in the batch fails validation.
	ErrInvalidRate = fmt.Errorf("surcharge: invalid rate: %w", common.ErrInvalidInput)
	// ErrInvalidProductType is returned for non-positive product type ids.
	ErrInvalidProductType = fmt.Errorf("surcharge: product type id must be positive: %w", common.ErrInvalidInput)
)

const uploadLockKey = "surcharge:upload"

// Rate is the surcharge configured for one product type.
type Rate struct {
	ProductTypeID int             `json:"productTypeId" validate:"gt=0"`
	Surcharge     decimal.Decimal `json:"surcharge" validate:"gte=0"`
}

// Store persists surcharge rates, one per product type.
type Store interface {
	// UpsertRates writes every rate or none of them.
	UpsertRates(ctx context.Context, rates []Rate) error
	// GetSurcharge reports found=false when no rate exists for the product type.
	GetSurcharge(ctx context.Context, productTypeID int) (rate decimal.Decimal, found bool, err error)
}

// Locker serialises uploads across instances. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic, key string, payload any) (events.Event, error)
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store     Store
	Locker    Locker
	LockTTL   time.Duration
	Events    Emitter
	Validator *validator.Validate
	Logger    zerolog.Logger
}

// Service validates and persists surcharge rates and answers surcharge lookups.
type Service struct {
	store    Store
	locker   Locker
	lockTTL  time.Duration
	events   Emitter
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("surcharge: store is required")
	}
	validate := cfg.Validator
	if validate == nil {
		validate = common.NewValidator()
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Service{
		store:    cfg.Store,
		locker:   cfg.Locker,
		lockTTL:  lockTTL,
		events:   cfg.Events,
		validate: validate,
		logger:   cfg.Logger.With().Str("component", "surcharge_service").Logger(),
	}, nil
}

// UploadSurchargeRates validates the whole batch and upserts it atomically. A rate
// for a product type that already has one replaces it. When the same product type
// appears more than once in a batch the last entry wins.
func (s *Service) UploadSurchargeRates(ctx context.Context, rates []Rate) (err error) {
	defer func() { countUpload(err) }()

	if len(rates) == 0 {
		return ErrEmptyBatch
	}
	for i, rate := range rates {
		if vErr := s.validate.Struct(rate); vErr != nil {
			return fmt.Errorf("%w: item %d (productTypeId=%d): %v", ErrInvalidRate, i, rate.ProductTypeID, vErr)
		}
	}
	batch := normalize(rates)

	write := func(ctx context.Context) error {
		return s.store.UpsertRates(ctx, batch)
	}
	if s.locker != nil {
		err = s.locker.WithLock(ctx, uploadLockKey, s.lockTTL, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		return fmt.Errorf("surcharge: upsert rates: %w", err)
	}

	s.logger.Info().Int("count", len(batch)).Msg("surcharge rates uploaded")
	s.publish(ctx, batch)
	return nil
}

// GetSurchargeForProductType returns the configured surcharge, zero when none exists.
func (s *Service) GetSurchargeForProductType(ctx context.Context, productTypeID int) (decimal.Decimal, error) {
	if productTypeID <= 0 {
		return decimal.Zero, ErrInvalidProductType
	}
	rate, found, err := s.store.GetSurcharge(ctx, productTypeID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("surcharge: get product type %d: %w", productTypeID, err)
	}
	if !found {
		return decimal.Zero, nil
	}
	return rate, nil
}

// SurchargeFor lets the pricing engine read surcharges from the local store.
func (s *Service) SurchargeFor(ctx context.Context, productTypeID int) (decimal.Decimal, error) {
	return s.GetSurchargeForProductType(ctx, productTypeID)
}

// normalize keeps the last rate per product type, rounds amounts to cents and orders
// the batch by product type so concurrent writers touch rows in the same order.
func normalize(rates []Rate) []Rate {
	latest := make(map[int]decimal.Decimal, len(rates))
	for _, rate := range rates {
		latest[rate.ProductTypeID] = rate.Surcharge.Round(2)
	}
	out := make([]Rate, 0, len(latest))
	for id, amount := range latest {
		out = append(out, Rate{ProductTypeID: id, Surcharge: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductTypeID < out[j].ProductTypeID })
	return out
}

type uploadedPayload struct {
	Rates      []Rate    `json:"rates"`
	Count      int       `json:"count"`
	UploadedAt time.Time `json:"uploadedAt"`
}

func (s *Service) publish(ctx context.Context, batch []Rate) {
	if s.events == nil {
		return
	}
	payload := uploadedPayload{Rates: batch, Count: len(batch), UploadedAt: time.Now().UTC()}
	if _, err := s.events.Emit(ctx, events.TopicSurchargeRatesUploaded, "surcharge-rates", payload); err != nil {
		s.logger.Warn().Err(err).Msg("publish surcharge upload event failed")
	}
}

func countUpload(err error) {
	if obs.SurchargeUploadsTotal == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, common.ErrInvalidInput):
		result = "invalid"
	default:
		result = "error"
	}
	obs.SurchargeUploadsTotal.WithLabelValues(result).Inc()
}
