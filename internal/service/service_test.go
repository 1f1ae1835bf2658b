package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pargorojo/backend/internal/cache"
	"pargorojo/backend/internal/domain"
	"pargorojo/backend/internal/store"
	"pargorojo/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopPreviewCache{}, 5*time.Second, "pargo-rojo"), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cajero", Role: "cashier"})
}

func openTestShift(t *testing.T, svc *Service, ctx context.Context, cashPesos int64) domain.ShiftOpenResponse {
	t.Helper()
	resp, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{
		DefinitionID: "def-morning",
		Opening:      domain.OpeningAmounts{CashPesos: cashPesos},
	})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	if resp.AlreadyOpen {
		t.Fatalf("expected a fresh shift, got already_open")
	}
	return resp
}

func seedOrder(t *testing.T, repo *memory.Store, method string, totalPesos int64, createdAt time.Time) {
	t.Helper()
	_, err := repo.CreateOrder(context.Background(), domain.Order{
		RestaurantID:  "pargo-rojo",
		TotalPesos:    totalPesos,
		PaymentMethod: method,
		PaymentStatus: domain.PaymentStatusPaid,
		Status:        domain.OrderStatusDelivered,
		CreatedAt:     createdAt,
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}
}

func seedVoucher(t *testing.T, repo *memory.Store, amountPesos int64, createdAt time.Time) {
	t.Helper()
	_, err := repo.CreatePettyCashVoucher(context.Background(), domain.PettyCashVoucher{
		RestaurantID: "pargo-rojo",
		AmountPesos:  amountPesos,
		Concept:      "test expense",
		IssuedBy:     "cajero",
		CreatedAt:    createdAt,
	})
	if err != nil {
		t.Fatalf("seed voucher failed: %v", err)
	}
}

func TestOpenShiftRequiresActor(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.OpenShift(context.Background(), domain.ShiftOpenRequest{})
	if err == nil {
		t.Fatalf("expected open shift without actor to fail")
	}
}

func TestOpenShiftRejectsNegativeOpening(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.OpenShift(cashierCtx(), domain.ShiftOpenRequest{
		Opening: domain.OpeningAmounts{CashPesos: -1},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenShiftSecondOpenReturnsExisting(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	first := openTestShift(t, svc, ctx, 100000)

	second, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{
		Opening: domain.OpeningAmounts{CashPesos: 50000},
	})
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	if !second.AlreadyOpen {
		t.Fatalf("expected already_open on duplicate clock-in")
	}
	if second.Shift.ID != first.Shift.ID {
		t.Fatalf("expected the existing shift back, got %s want %s", second.Shift.ID, first.Shift.ID)
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("expected the existing session back")
	}
}

func TestOpenShiftDistinctUsersIndependent(t *testing.T) {
	svc, _ := newTestService()

	openTestShift(t, svc, cashierCtx(), 100000)

	other := WithActor(context.Background(), domain.Actor{Username: "gerente", Role: "manager"})
	resp, err := svc.OpenShift(other, domain.ShiftOpenRequest{})
	if err != nil {
		t.Fatalf("open shift for second user failed: %v", err)
	}
	if resp.AlreadyOpen {
		t.Fatalf("second user should get a fresh shift")
	}
}

func TestOpenShiftRecordsOpeningMovement(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 80000)

	movements, err := svc.ListMovements(ctx, resp.Session.ID, 10)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if len(movements.Movements) != 1 {
		t.Fatalf("expected one opening movement, got %d", len(movements.Movements))
	}
	if movements.Movements[0].Type != domain.MovementOpening || movements.Movements[0].AmountPesos != 80000 {
		t.Fatalf("unexpected opening movement: %+v", movements.Movements[0])
	}
}

func TestOpenShiftZeroCashSkipsOpeningMovement(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 0)

	movements, err := svc.ListMovements(ctx, resp.Session.ID, 10)
	if err != nil {
		t.Fatalf("list movements failed: %v", err)
	}
	if len(movements.Movements) != 0 {
		t.Fatalf("expected no movements for zero opening cash, got %d", len(movements.Movements))
	}
}

func TestPreviewAggregatesSinceOpenInclusive(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 100000)
	openedAt := resp.Session.OpenedAt

	// One order a millisecond before the boundary: excluded. One exactly at
	// the boundary: included.
	seedOrder(t, repo, domain.MethodCash, 999999, openedAt.Add(-time.Millisecond))
	seedOrder(t, repo, domain.MethodCash, 150000, openedAt)
	seedOrder(t, repo, domain.MethodCash, 100000, openedAt.Add(time.Minute))
	seedOrder(t, repo, domain.MethodCard, 70000, openedAt.Add(time.Minute))
	seedVoucher(t, repo, 30000, openedAt.Add(2*time.Minute))

	preview, err := svc.Preview(ctx, resp.Session.ID, nil)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.CashSalesPesos != 250000 {
		t.Fatalf("expected cash sales 250000, got %d", preview.CashSalesPesos)
	}
	if preview.ExpensesPesos != 30000 {
		t.Fatalf("expected expenses 30000, got %d", preview.ExpensesPesos)
	}
	if preview.ExpectedPesos != 320000 {
		t.Fatalf("expected 320000, got %d", preview.ExpectedPesos)
	}

	// Re-running with no new orders yields identical totals.
	again, err := svc.Preview(ctx, resp.Session.ID, nil)
	if err != nil {
		t.Fatalf("second preview failed: %v", err)
	}
	if again.CashSalesPesos != preview.CashSalesPesos || again.ExpensesPesos != preview.ExpensesPesos {
		t.Fatalf("aggregation not idempotent: %+v vs %+v", again, preview)
	}
}

func TestPreviewExcludesUnpaidAndDefaultsMethodToCash(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 0)
	openedAt := resp.Session.OpenedAt

	seedOrder(t, repo, "", 40000, openedAt.Add(time.Second))
	_, err := repo.CreateOrder(context.Background(), domain.Order{
		RestaurantID:  "pargo-rojo",
		TotalPesos:    90000,
		PaymentMethod: domain.MethodCash,
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.OrderStatusDelivered,
		CreatedAt:     openedAt.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("seed pending order failed: %v", err)
	}

	preview, err := svc.Preview(ctx, resp.Session.ID, nil)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.CashSalesPesos != 40000 {
		t.Fatalf("expected only the method-less paid order as cash 40000, got %d", preview.CashSalesPesos)
	}
}

func TestPreviewWithTallyComputesVariance(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 100000)
	seedOrder(t, repo, domain.MethodCash, 250000, resp.Session.OpenedAt.Add(time.Minute))
	seedVoucher(t, repo, 30000, resp.Session.OpenedAt.Add(time.Minute))

	preview, err := svc.Preview(ctx, resp.Session.ID, []domain.DenominationLine{
		{ValuePesos: 100000, Count: 3},
	})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.CountedPesos != 300000 {
		t.Fatalf("expected counted 300000, got %d", preview.CountedPesos)
	}
	if preview.VariancePesos != -20000 {
		t.Fatalf("expected shortage -20000, got %d", preview.VariancePesos)
	}
}

func TestCloseCashboxPerfectClose(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 100000)
	seedOrder(t, repo, domain.MethodCash, 250000, resp.Session.OpenedAt.Add(time.Minute))
	seedVoucher(t, repo, 30000, resp.Session.OpenedAt.Add(time.Minute))

	closed, err := svc.CloseCashbox(ctx, resp.Session.ID, domain.CashboxCloseRequest{
		Tally: []domain.DenominationLine{
			{ValuePesos: 100000, Count: 3},
			{ValuePesos: 20000, Count: 1},
		},
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if closed.ExpectedPesos != 320000 || closed.CountedPesos != 320000 || closed.VariancePesos != 0 {
		t.Fatalf("expected perfect close, got %+v", closed)
	}
	if closed.Shift.Status != domain.ShiftStatusClosed || closed.Shift.EndedAt == nil {
		t.Fatalf("shift not closed: %+v", closed.Shift)
	}
	if closed.Session.Status != domain.SessionStatusClosed {
		t.Fatalf("session not closed: %+v", closed.Session)
	}
	if closed.Session.ClosingPesos == nil || closed.Session.SystemPesos == nil {
		t.Fatalf("closing amounts not persisted")
	}
}

func TestCloseCashboxShortageStillPermitted(t *testing.T) {
	svc, repo := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 100000)
	seedOrder(t, repo, domain.MethodCash, 250000, resp.Session.OpenedAt.Add(time.Minute))
	seedVoucher(t, repo, 30000, resp.Session.OpenedAt.Add(time.Minute))

	closed, err := svc.CloseCashbox(ctx, resp.Session.ID, domain.CashboxCloseRequest{
		Tally: []domain.DenominationLine{{ValuePesos: 100000, Count: 3}},
	})
	if err != nil {
		t.Fatalf("close with shortage should be permitted: %v", err)
	}
	if closed.VariancePesos != -20000 {
		t.Fatalf("expected variance -20000, got %d", closed.VariancePesos)
	}
	if *closed.Session.ClosingPesos != 300000 || *closed.Session.SystemPesos != 320000 {
		t.Fatalf("variance inputs not persisted: %+v", closed.Session)
	}
}

func TestCloseCashboxRejectsZeroCount(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 100000)

	_, err := svc.CloseCashbox(ctx, resp.Session.ID, domain.CashboxCloseRequest{Tally: nil})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero count, got %v", err)
	}

	_, err = svc.CloseCashbox(ctx, resp.Session.ID, domain.CashboxCloseRequest{
		Tally: []domain.DenominationLine{{ValuePesos: 50000, Count: 0}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero tally, got %v", err)
	}
}

func TestCloseCashboxTwiceFails(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 50000)
	tally := []domain.DenominationLine{{ValuePesos: 50000, Count: 1}}

	if _, err := svc.CloseCashbox(ctx, resp.Session.ID, domain.CashboxCloseRequest{Tally: tally}); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	_, err := svc.CloseCashbox(ctx, resp.Session.ID, domain.CashboxCloseRequest{Tally: tally})
	if !errors.Is(err, store.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on double close, got %v", err)
	}
}

func TestCloseCashboxForeignSessionForbidden(t *testing.T) {
	svc, _ := newTestService()

	resp := openTestShift(t, svc, cashierCtx(), 50000)

	other := WithActor(context.Background(), domain.Actor{Username: "intruso", Role: "cashier"})
	_, err := svc.CloseCashbox(other, resp.Session.ID, domain.CashboxCloseRequest{
		Tally: []domain.DenominationLine{{ValuePesos: 50000, Count: 1}},
	})
	if err == nil {
		t.Fatalf("expected close of another user's session to fail")
	}
}

func TestRecordMovementValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 50000)

	if _, err := svc.RecordMovement(ctx, resp.Session.ID, domain.MovementCreateRequest{
		Type:        domain.MovementOpening,
		AmountPesos: 1000,
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected opening type to be rejected, got %v", err)
	}

	if _, err := svc.RecordMovement(ctx, resp.Session.ID, domain.MovementCreateRequest{
		Type:        domain.MovementExpense,
		AmountPesos: 0,
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected zero amount to be rejected, got %v", err)
	}

	movement, err := svc.RecordMovement(ctx, resp.Session.ID, domain.MovementCreateRequest{
		Type:        domain.MovementExpense,
		AmountPesos: 12000,
		Note:        "domicilio gasolina",
	})
	if err != nil {
		t.Fatalf("record movement failed: %v", err)
	}
	if movement.ID == "" || movement.SessionID != resp.Session.ID {
		t.Fatalf("unexpected movement: %+v", movement)
	}
}

func TestRecordMovementOnClosedSessionFails(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 50000)
	_, err := svc.CloseCashbox(ctx, resp.Session.ID, domain.CashboxCloseRequest{
		Tally: []domain.DenominationLine{{ValuePesos: 50000, Count: 1}},
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err = svc.RecordMovement(ctx, resp.Session.ID, domain.MovementCreateRequest{
		Type:        domain.MovementAdjustment,
		AmountPesos: 500,
	})
	if !errors.Is(err, store.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestIssueVoucherRequiresConcept(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.IssueVoucher(cashierCtx(), domain.VoucherCreateRequest{AmountPesos: 10000})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIssueVoucherAffectsNextClose(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()

	resp := openTestShift(t, svc, ctx, 100000)

	_, err := svc.IssueVoucher(ctx, domain.VoucherCreateRequest{
		AmountPesos: 25000,
		Concept:     "compra verduras",
	})
	if err != nil {
		t.Fatalf("issue voucher failed: %v", err)
	}

	preview, err := svc.Preview(ctx, resp.Session.ID, nil)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if preview.ExpensesPesos != 25000 {
		t.Fatalf("expected expenses 25000, got %d", preview.ExpensesPesos)
	}
	if preview.ExpectedPesos != 75000 {
		t.Fatalf("expected 75000, got %d", preview.ExpectedPesos)
	}
}

func TestActiveShiftNotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.ActiveShift(cashierCtx())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecommendedShiftListsDefinitions(t *testing.T) {
	svc, _ := newTestService()
	resp, err := svc.RecommendedShift(context.Background())
	if err != nil {
		t.Fatalf("recommended shift failed: %v", err)
	}
	if len(resp.All) != 3 {
		t.Fatalf("expected 3 seeded definitions, got %d", len(resp.All))
	}
	// The seeded windows cover all 24 hours, so some definition always matches.
	if resp.Definition == nil {
		t.Fatalf("expected a recommendation for the current hour")
	}
}
