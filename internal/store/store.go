package store

import (
	"context"
	"errors"
	"time"

	"pargorojo/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	ErrShiftOpen     = errors.New("shift already open for user")
	ErrSessionClosed = errors.New("cashbox session already closed")
)

type Repository interface {
	ListShiftDefinitions(ctx context.Context) ([]domain.ShiftDefinition, error)

	// OpenShift persists the shift header, its cashbox session, the declared
	// per-method opening balances and the optional opening cash movement in a
	// single transaction. A second open shift for the same user fails with
	// ErrShiftOpen.
	OpenShift(ctx context.Context, shift domain.Shift, session domain.CashboxSession, balances []domain.SessionBalance, opening *domain.CashMovement) (*domain.Shift, *domain.CashboxSession, error)

	GetActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, *domain.CashboxSession, error)
	GetSessionByID(ctx context.Context, sessionID string) (*domain.CashboxSession, error)
	GetSessionBalances(ctx context.Context, sessionID string) ([]domain.SessionBalance, error)

	// CloseSessionAndShift recomputes the expected cash inside the closing
	// transaction and marks the session and its shift closed. The returned
	// session carries ClosingPesos and SystemPesos. Closing an
	// already-closed session fails with ErrSessionClosed.
	CloseSessionAndShift(ctx context.Context, sessionID string, countedPesos int64, notes string, closedAt time.Time) (*domain.Shift, *domain.CashboxSession, error)

	// SumDeliveredPaidSalesByMethod groups paid, delivered order totals by
	// payment method for orders created at or after since. Orders without a
	// method count as cash.
	SumDeliveredPaidSalesByMethod(ctx context.Context, restaurantID string, since time.Time) (map[string]int64, error)
	SumVoucherExpenses(ctx context.Context, restaurantID string, since time.Time) (int64, error)

	CreateCashMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error)
	ListCashMovements(ctx context.Context, sessionID string, limit int) ([]domain.CashMovement, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	CreatePettyCashVoucher(ctx context.Context, voucher domain.PettyCashVoucher) (*domain.PettyCashVoucher, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
