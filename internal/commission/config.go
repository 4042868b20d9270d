package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// noOverride is cached for vendors that use the global rate.
const noOverride = "none"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// RateCache is the slice of the redis client the config service needs.
type RateCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CacheKey(parts ...string) string
}

// ConfigView is the operator-facing commission configuration.
type ConfigView struct {
	Rate      string     `json:"rate"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// OverrideView is a single vendor override.
type OverrideView struct {
	VendorID  uuid.UUID  `json:"vendor_id"`
	Rate      string     `json:"rate"`
	UpdatedBy *uuid.UUID `json:"updated_by,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ConfigService manages commission rates. The database is the source of truth;
// the cache only shortens rate lookups.
type ConfigService interface {
	GetConfig(ctx context.Context) (*ConfigView, error)
	UpdateGlobalRate(ctx context.Context, rate decimal.Decimal, actor auth.Principal) (*ConfigView, error)
	SetVendorOverride(ctx context.Context, vendorID uuid.UUID, rate decimal.Decimal, actor auth.Principal) (*OverrideView, error)
	ClearVendorOverride(ctx context.Context, vendorID uuid.UUID, actor auth.Principal) error
	ListOverrides(ctx context.Context) ([]OverrideView, error)
	ResolveRate(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (decimal.Decimal, error)
}

type configService struct {
	repo        Repository
	tx          txRunner
	outbox      outboxPublisher
	cache       RateCache
	logg        *logger.Logger
	defaultRate decimal.Decimal
	cacheTTL    time.Duration
}

// NewConfigService wires the commission config service. cache may be nil.
func NewConfigService(repo Repository, tx txRunner, publisher outboxPublisher, cache RateCache, logg *logger.Logger, defaultRate decimal.Decimal, cacheTTL time.Duration) (ConfigService, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := money.ValidRate(defaultRate); err != nil {
		return nil, fmt.Errorf("default commission rate: %w", err)
	}
	return &configService{
		repo:        repo,
		tx:          tx,
		outbox:      publisher,
		cache:       cache,
		logg:        logg,
		defaultRate: defaultRate,
		cacheTTL:    cacheTTL,
	}, nil
}

func (s *configService) GetConfig(ctx context.Context) (*ConfigView, error) {
	cfg, err := s.loadGlobal(ctx, s.repo)
	if err != nil {
		return nil, err
	}
	return toConfigView(cfg), nil
}

func (s *configService) UpdateGlobalRate(ctx context.Context, rate decimal.Decimal, actor auth.Principal) (*ConfigView, error) {
	if !actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can change the commission rate")
	}
	if err := money.ValidRate(rate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid commission rate")
	}

	var updated *models.CommissionConfig
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.loadGlobal(ctx, repo); err != nil {
			return err
		}
		if err := repo.UpdateGlobal(ctx, rate, actor.UserID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update commission rate")
		}
		cfg, err := repo.FindGlobal(ctx)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload commission rate")
		}
		updated = cfg
		return s.emitConfigUpdated(ctx, tx, actor, nil, rate)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, s.globalKey())
	return toConfigView(updated), nil
}

func (s *configService) SetVendorOverride(ctx context.Context, vendorID uuid.UUID, rate decimal.Decimal, actor auth.Principal) (*OverrideView, error) {
	if !actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can change commission overrides")
	}
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if err := money.ValidRate(rate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid commission rate")
	}

	updatedBy := actor.UserID
	override := &models.VendorCommissionOverride{VendorID: vendorID, Rate: rate, UpdatedBy: &updatedBy}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpsertOverride(ctx, override); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save commission override")
		}
		stored, err := repo.FindOverride(ctx, vendorID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload commission override")
		}
		override = stored
		return s.emitConfigUpdated(ctx, tx, actor, &vendorID, rate)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, s.vendorKey(vendorID))
	view := toOverrideView(*override)
	return &view, nil
}

func (s *configService) ClearVendorOverride(ctx context.Context, vendorID uuid.UUID, actor auth.Principal) error {
	if !actor.IsOperator() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only operators can change commission overrides")
	}
	if vendorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	deleted, err := s.repo.DeleteOverride(ctx, vendorID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete commission override")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "commission override not found")
	}
	s.invalidate(ctx, s.vendorKey(vendorID))
	return nil
}

func (s *configService) ListOverrides(ctx context.Context) ([]OverrideView, error) {
	rows, err := s.repo.ListOverrides(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commission overrides")
	}
	out := make([]OverrideView, len(rows))
	for i, row := range rows {
		out[i] = toOverrideView(row)
	}
	return out, nil
}

// ResolveRate returns the vendor override when one exists, else the global rate.
// tx may be nil; when set, uncached reads run on it.
func (s *configService) ResolveRate(ctx context.Context, tx *gorm.DB, vendorID uuid.UUID) (decimal.Decimal, error) {
	repo := s.repo.WithTx(tx)

	if rate, ok := s.cached(ctx, s.vendorKey(vendorID)); ok {
		if rate != noOverride {
			return decimal.NewFromString(rate)
		}
	} else {
		override, err := repo.FindOverride(ctx, vendorID)
		switch {
		case err == nil:
			s.store(ctx, s.vendorKey(vendorID), override.Rate.String())
			return override.Rate, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.store(ctx, s.vendorKey(vendorID), noOverride)
		default:
			return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission override")
		}
	}

	if rate, ok := s.cached(ctx, s.globalKey()); ok {
		return decimal.NewFromString(rate)
	}
	cfg, err := s.loadGlobal(ctx, repo)
	if err != nil {
		return decimal.Zero, err
	}
	s.store(ctx, s.globalKey(), cfg.Rate.String())
	return cfg.Rate, nil
}

// loadGlobal reads the global row, creating it with the default rate on first use.
func (s *configService) loadGlobal(ctx context.Context, repo Repository) (*models.CommissionConfig, error) {
	cfg, err := repo.FindGlobal(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission config")
	}
	if err := repo.CreateGlobalIfMissing(ctx, s.defaultRate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create commission config")
	}
	cfg, err = repo.FindGlobal(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission config")
	}
	return cfg, nil
}

func (s *configService) emitConfigUpdated(ctx context.Context, tx *gorm.DB, actor auth.Principal, vendorID *uuid.UUID, rate decimal.Decimal) error {
	scope := models.CommissionScopeGlobal
	if vendorID != nil {
		scope = "vendor"
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventCommissionConfigUpdated,
		AggregateType: enums.AggregateCommissionConfig,
		AggregateID:   aggregateFor(vendorID),
		Actor:         outbox.ActorFor(actor),
		Data: payloads.CommissionConfigUpdatedEvent{
			Scope:     scope,
			VendorID:  vendorID,
			Rate:      rate.StringFixed(2),
			UpdatedBy: actor.UserID,
		},
		Version: 1,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit commission config event")
	}
	return nil
}

func (s *configService) globalKey() string {
	if s.cache == nil {
		return ""
	}
	return s.cache.CacheKey("commission", models.CommissionScopeGlobal)
}

func (s *configService) vendorKey(vendorID uuid.UUID) string {
	if s.cache == nil {
		return ""
	}
	return s.cache.CacheKey("commission", "vendor", vendorID.String())
}

func (s *configService) cached(ctx context.Context, key string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	value, err := s.cache.Get(ctx, key)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

func (s *configService) store(ctx context.Context, key, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "commission rate cache write failed")
	}
}

func (s *configService) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, key); err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()}), "commission rate cache invalidation failed")
	}
}

// aggregateFor keys global changes on the nil id and vendor changes on the vendor.
func aggregateFor(vendorID *uuid.UUID) uuid.UUID {
	if vendorID == nil {
		return uuid.Nil
	}
	return *vendorID
}

func toConfigView(cfg *models.CommissionConfig) *ConfigView {
	return &ConfigView{
		Rate:      cfg.Rate.StringFixed(2),
		UpdatedBy: cfg.UpdatedBy,
		UpdatedAt: cfg.UpdatedAt,
	}
}

func toOverrideView(o models.VendorCommissionOverride) OverrideView {
	return OverrideView{
		VendorID:  o.VendorID,
		Rate:      o.Rate.StringFixed(2),
		UpdatedBy: o.UpdatedBy,
		UpdatedAt: o.UpdatedAt,
	}
}
