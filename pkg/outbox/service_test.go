package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

func setupOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:outbox_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}))
	return db
}

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	db := setupOutboxDB(t)
	svc := NewService(NewRepository(db), nil)
	orderID := uuid.New()
	vendorID := uuid.New()

	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventOrderConfirmed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         &ActorRef{UserID: uuid.New(), VendorID: &vendorID, Role: string(enums.ActorRoleSystem)},
		Data:          map[string]any{"order_id": orderID.String()},
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	require.Equal(t, vendorID, *envelope.Actor.VendorID)
	require.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(envelope.Data))
}

func TestEmitRejectsMissingTransactionAndUnknownType(t *testing.T) {
	db := setupOutboxDB(t)
	svc := NewService(NewRepository(db), nil)

	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderPlaced, AggregateID: uuid.New()}))
	require.Error(t, svc.Emit(context.Background(), db, DomainEvent{EventType: "bogus", AggregateID: uuid.New()}))
	require.Error(t, svc.Emit(context.Background(), db, DomainEvent{EventType: enums.EventOrderPlaced}))
}

func TestEmitIfNotExistsQueuesOnce(t *testing.T) {
	db := setupOutboxDB(t)
	svc := NewService(NewRepository(db), nil)
	event := DomainEvent{
		EventType:     enums.EventCommissionCredited,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]int{"vendor_cents": 900},
	}

	require.NoError(t, svc.EmitIfNotExists(context.Background(), db, event))
	require.NoError(t, svc.EmitIfNotExists(context.Background(), db, event))

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(ctx, db, DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"n": i},
		}))
	}

	pending, err := repo.FetchUnpublishedForPublish(db, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	require.NoError(t, repo.MarkPublishedTx(db, pending[0].ID))
	require.NoError(t, repo.MarkFailedTx(db, pending[1].ID, errors.New("pubsub down")))

	pending, err = repo.FetchUnpublishedForPublish(db, 10, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("published_at IS NOT NULL").
		Update("published_at", time.Now().UTC().Add(-48*time.Hour)).Error)
	deleted, err := repo.DeletePublishedBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestDeadLetterMarksSourcePublished(t *testing.T) {
	db := setupOutboxDB(t)
	repo := NewRepository(db)
	dlq := NewDLQRepository(db)
	svc := NewService(repo, nil)
	ctx := context.Background()

	require.NoError(t, svc.Emit(ctx, db, DomainEvent{
		EventType:     enums.EventRefundCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]string{"reference": "REF-1-x"},
	}))
	rows, err := repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, dlq.DeadLetterTx(db, rows[0], enums.OutboxDLQReasonNonRetryable, errors.New("bad payload")))

	entry, err := dlq.FindByEventID(ctx, rows[0].ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.Equal(t, 1, entry.AttemptCount)

	rows, err = repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Empty(t, rows)
}
