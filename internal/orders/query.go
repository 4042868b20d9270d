package orders

import (
	"context"
	"errors"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*OrderDetail, error) {
	order, err := s.readable(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	return ToDetail(order), nil
}

func (s *service) Track(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*Tracking, error) {
	order, err := s.readable(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	return &Tracking{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: order.OrderStatus,
		Timeline:      BuildTimeline(order),
	}, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params ListParams) (*OrderList, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	return s.list(ctx, listQuery{buyerID: &buyerID}, params)
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID, params ListParams) (*OrderList, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	return s.list(ctx, listQuery{vendorID: &vendorID}, params)
}

func (s *service) list(ctx context.Context, query listQuery, params ListParams) (*OrderList, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	query.status = params.Status
	query.limit = pagination.LimitWithBuffer(params.Limit)
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.cursor = cursor
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	out := make([]OrderSummary, len(rows))
	for i, row := range rows {
		out[i] = toSummary(row)
	}
	return &OrderList{Orders: out, NextCursor: nextCursor}, nil
}

// readable loads an order the principal is allowed to see.
func (s *service) readable(ctx context.Context, orderID uuid.UUID, actor auth.Principal) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	switch {
	case actor.IsOperator(), actor.Role == enums.ActorRoleSystem:
	case actor.Role == enums.ActorRoleCustomer && order.BuyerID == actor.UserID:
	case actor.OwnsVendor(order.VendorID):
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "access denied to this order")
	}
	return order, nil
}
