package commission

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	dbpkg "github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

type recordingPublisher struct {
	events []outbox.DomainEvent
}

func (p *recordingPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	p.events = append(p.events, event)
	return nil
}

var errCacheMiss = errors.New("cache miss")

type memoryCache struct {
	values map[string]string
	reads  int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.reads++
	value, ok := c.values[key]
	if !ok {
		return "", errCacheMiss
	}
	return value, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.values[key] = value.(string)
	return nil
}

func (c *memoryCache) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(c.values, key)
	}
	return nil
}

func (c *memoryCache) CacheKey(parts ...string) string {
	key := "settlement:cache"
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

type fixture struct {
	db        *gorm.DB
	config    ConfigService
	engine    Engine
	wallet    wallet.Service
	publisher *recordingPublisher
	cache     *memoryCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:commission_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Order{},
		&models.VendorWallet{},
		&models.WalletTransaction{},
		&models.CommissionConfig{},
		&models.VendorCommissionOverride{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	publisher := &recordingPublisher{}
	cache := newMemoryCache()
	client := dbpkg.Wrap(db)

	cfgSvc, err := NewConfigService(NewRepository(db), client, publisher, cache, logg, decimal.NewFromInt(10), time.Minute)
	if err != nil {
		t.Fatalf("config service: %v", err)
	}
	walletSvc, err := wallet.NewService(wallet.NewRepository(db), nil)
	if err != nil {
		t.Fatalf("wallet service: %v", err)
	}
	eng, err := NewEngine(orders.NewRepository(db), walletSvc, cfgSvc, client, publisher, logg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return &fixture{db: db, config: cfgSvc, engine: eng, wallet: walletSvc, publisher: publisher, cache: cache}
}

func (f *fixture) seedOrder(t *testing.T, mutate func(o *models.Order)) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber: orders.NewOrderNumber(time.Now()),
		BuyerID:     uuid.New(),
		VendorID:    uuid.New(),
		LineItems: types.OrderLineItems{
			{ProductID: uuid.New(), Name: "Desk lamp", UnitPriceCents: 27500, Quantity: 2, LineTotalCents: 55000},
		},
		SubtotalCents: 55000,
		PayableCents:  55000,
		OrderStatus:   enums.OrderStatusConfirmed,
		PaymentStatus: enums.PaymentStatusPaid,
		PaymentMethod: enums.PaymentMethodOnline,
		Refund:        models.OrderRefund{Status: enums.RefundStatusNotRequired},
		StatusHistory: types.StatusHistory{},
	}
	if mutate != nil {
		mutate(order)
	}
	if err := f.db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (f *fixture) balance(t *testing.T, vendorID uuid.UUID) int64 {
	t.Helper()
	summary, err := f.wallet.Summary(context.Background(), vendorID)
	if err != nil {
		t.Fatalf("wallet summary: %v", err)
	}
	return summary.BalanceCents
}

func (f *fixture) loadOrder(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := orders.NewRepository(f.db).FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order
}
