package withdrawals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/wallet"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service moves vendor money from balance to hold to payout.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*RequestResult, error)
	Approve(ctx context.Context, withdrawalID uuid.UUID, actor auth.Principal) (*WithdrawalView, error)
	Pay(ctx context.Context, input PayInput) (*WithdrawalView, error)
	Reject(ctx context.Context, withdrawalID uuid.UUID, reason string, actor auth.Principal) (*WithdrawalView, error)
	Get(ctx context.Context, withdrawalID uuid.UUID, actor auth.Principal) (*WithdrawalView, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID, actor auth.Principal, params ListParams) (*WithdrawalList, error)
	ListByStatus(ctx context.Context, actor auth.Principal, params ListParams) (*WithdrawalList, error)
}

type service struct {
	repo           Repository
	wallet         wallet.Service
	tx             txRunner
	outbox         outboxPublisher
	logg           *logger.Logger
	minAmountCents int64
	now            func() time.Time
}

func NewService(repo Repository, walletSvc wallet.Service, tx txRunner, publisher outboxPublisher, logg *logger.Logger, minAmountCents int64) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("withdrawals repository required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("wallet service required")
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
	if minAmountCents <= 0 {
		minAmountCents = 1
	}
	return &service{
		repo:           repo,
		wallet:         walletSvc,
		tx:             tx,
		outbox:         publisher,
		logg:           logg,
		minAmountCents: minAmountCents,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Request(ctx context.Context, input RequestInput) (*RequestResult, error) {
	actor := input.Actor
	if actor.Role != enums.ActorRoleVendor || actor.VendorID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only vendors can request withdrawals")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be greater than 0")
	}
	if input.AmountCents < s.minAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("withdrawal amount must be at least %s", money.Format(s.minAmountCents)))
	}
	vendorID := *actor.VendorID

	var (
		request *models.WithdrawalRequest
		entry   *models.WalletTransaction
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		current, err := s.wallet.GetOrCreate(ctx, tx, vendorID)
		if err != nil {
			return err
		}
		if current.BalanceCents < input.AmountCents {
			return insufficientBalance(current.BalanceCents)
		}

		request = &models.WithdrawalRequest{
			VendorID:    vendorID,
			AmountCents: input.AmountCents,
			Status:      enums.WithdrawalStatusPending,
			RequestedAt: s.now(),
		}
		if err := s.repo.WithTx(tx).Create(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create withdrawal request")
		}

		entry, err = s.wallet.MoveToHold(ctx, tx, vendorID, input.AmountCents, request.ID,
			fmt.Sprintf("Withdrawal request - amount held (request %s)", request.ID))
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return insufficientBalance(current.BalanceCents)
			}
			return err
		}
		return s.emit(ctx, tx, enums.EventWithdrawalRequested, request, actor, "")
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx, request, "withdrawal requested")
	return &RequestResult{
		Withdrawal:       toView(request),
		BalanceCents:     entry.BalanceAfterCents,
		HoldBalanceCents: entry.HoldAfterCents,
	}, nil
}

func insufficientBalance(available int64) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("insufficient balance. available balance: %s", money.Format(available))).
		WithDetails(map[string]any{"available_cents": available})
}

// Approve acknowledges a request without moving money; the hold stays in place.
func (s *service) Approve(ctx context.Context, withdrawalID uuid.UUID, actor auth.Principal) (*WithdrawalView, error) {
	return s.mutate(ctx, withdrawalID, actor, func(tx *gorm.DB, request *models.WithdrawalRequest, now time.Time) error {
		if request.Status != enums.WithdrawalStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("withdrawal request is already %s. only pending requests can be approved", request.Status))
		}
		request.Status = enums.WithdrawalStatusApproved
		request.ApprovedAt = &now
		request.ApprovedBy = actor.UserRef()
		return s.emit(ctx, tx, enums.EventWithdrawalApproved, request, actor, "")
	})
}

// Pay releases the held amount as a completed payout.
func (s *service) Pay(ctx context.Context, input PayInput) (*WithdrawalView, error) {
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	return s.mutate(ctx, input.WithdrawalID, input.Actor, func(tx *gorm.DB, request *models.WithdrawalRequest, now time.Time) error {
		if request.Status != enums.WithdrawalStatusPending && request.Status != enums.WithdrawalStatusApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("withdrawal request is already %s. only pending or approved requests can be paid", request.Status))
		}
		if input.VendorID != nil && *input.VendorID != request.VendorID {
			return pkgerrors.New(pkgerrors.CodeValidation, "withdrawal request does not belong to this vendor")
		}
		if _, err := s.wallet.ReleaseFromHold(ctx, tx, request.VendorID, request.AmountCents, request.ID,
			fmt.Sprintf("Vendor payout completed - payment reference: %s", reference)); err != nil {
			return err
		}
		request.Status = enums.WithdrawalStatusPaid
		request.PaidAt = &now
		request.PaidBy = input.Actor.UserRef()
		request.PaymentReference = &reference
		return s.emit(ctx, tx, enums.EventWithdrawalPaid, request, input.Actor, "")
	})
}

// Reject returns the held amount to the vendor's balance.
func (s *service) Reject(ctx context.Context, withdrawalID uuid.UUID, reason string, actor auth.Principal) (*WithdrawalView, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Rejected by admin"
	}
	return s.mutate(ctx, withdrawalID, actor, func(tx *gorm.DB, request *models.WithdrawalRequest, now time.Time) error {
		if request.Status != enums.WithdrawalStatusPending && request.Status != enums.WithdrawalStatusApproved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("withdrawal request is already %s. only pending or approved requests can be rejected", request.Status))
		}
		if _, err := s.wallet.ReturnHoldToBalance(ctx, tx, request.VendorID, request.AmountCents, request.ID,
			fmt.Sprintf("Withdrawal rejected - amount returned (request %s)", request.ID)); err != nil {
			return err
		}
		request.Status = enums.WithdrawalStatusRejected
		request.RejectedAt = &now
		request.RejectedBy = actor.UserRef()
		request.RejectionReason = &reason
		return s.emit(ctx, tx, enums.EventWithdrawalRejected, request, actor, reason)
	})
}

// mutate runs an operator step against a locked request and saves it.
func (s *service) mutate(ctx context.Context, withdrawalID uuid.UUID, actor auth.Principal, step func(tx *gorm.DB, request *models.WithdrawalRequest, now time.Time) error) (*WithdrawalView, error) {
	if !actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can settle withdrawals")
	}
	if withdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid withdrawal request id is required")
	}

	var request *models.WithdrawalRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.LockByID(ctx, withdrawalID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal request not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load withdrawal request")
		}
		request = current
		if err := step(tx, request, s.now()); err != nil {
			return err
		}
		if err := repo.Save(ctx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save withdrawal request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx, request, "withdrawal "+string(request.Status))
	view := toView(request)
	return &view, nil
}

func (s *service) Get(ctx context.Context, withdrawalID uuid.UUID, actor auth.Principal) (*WithdrawalView, error) {
	if withdrawalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid withdrawal request id is required")
	}
	request, err := s.repo.FindByID(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load withdrawal request")
	}
	if !actor.IsOperator() && !actor.OwnsVendor(request.VendorID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "access denied to this withdrawal request")
	}
	view := toView(request)
	return &view, nil
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID, actor auth.Principal, params ListParams) (*WithdrawalList, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if !actor.IsOperator() && !actor.OwnsVendor(vendorID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "access denied to this vendor")
	}
	return s.list(ctx, listQuery{vendorID: &vendorID}, params)
}

func (s *service) ListByStatus(ctx context.Context, actor auth.Principal, params ListParams) (*WithdrawalList, error) {
	if !actor.IsOperator() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only operators can list all withdrawals")
	}
	return s.list(ctx, listQuery{}, params)
}

func (s *service) list(ctx context.Context, query listQuery, params ListParams) (*WithdrawalList, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid withdrawal status")
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
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list withdrawal requests")
	}
	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[limit-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	items := make([]WithdrawalView, len(rows))
	for i := range rows {
		items[i] = toView(&rows[i])
	}
	return &WithdrawalList{Items: items, Cursor: nextCursor}, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, request *models.WithdrawalRequest, actor auth.Principal, note string) error {
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateWithdrawalRequest,
		AggregateID:   request.ID,
		Actor:         outbox.ActorFor(actor),
		Data: payloads.WithdrawalEvent{
			WithdrawalID:     request.ID,
			VendorID:         request.VendorID,
			AmountCents:      request.AmountCents,
			Status:           request.Status,
			PaymentReference: deref(request.PaymentReference),
			Note:             note,
		},
		Version: 1,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit withdrawal event")
	}
	return nil
}

func (s *service) log(ctx context.Context, request *models.WithdrawalRequest, msg string) {
	logCtx := s.logg.WithVendorID(ctx, request.VendorID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"withdrawal_id": request.ID.String(),
		"amount_cents":  request.AmountCents,
	}), msg)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
