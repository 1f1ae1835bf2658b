package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"pargorojo/backend/internal/domain"
)

func TestCloseSessionAndShiftReconciles(t *testing.T) {
	databaseURL := os.Getenv("PARGOROJO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set PARGOROJO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	restaurantID := "pargo-rojo"
	userID := fmt.Sprintf("cajero-it-%d", stamp)
	shiftID := fmt.Sprintf("shf-it-%d", stamp)
	sessionID := fmt.Sprintf("ses-it-%d", stamp)
	orderID := fmt.Sprintf("ord-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cash_movements WHERE session_id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM session_balances WHERE session_id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cashbox_sessions WHERE id = $1`, sessionID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id = $1`, shiftID)
	})

	openedAt := time.Now().UTC().Add(-time.Hour)
	shift := domain.Shift{
		ID:           shiftID,
		RestaurantID: restaurantID,
		UserID:       userID,
		Status:       domain.ShiftStatusOpen,
		StartedAt:    openedAt,
	}
	session := domain.CashboxSession{
		ID:           sessionID,
		ShiftID:      shiftID,
		RestaurantID: restaurantID,
		UserID:       userID,
		Status:       domain.SessionStatusOpen,
		OpenedAt:     openedAt,
	}
	balances := []domain.SessionBalance{
		{SessionID: sessionID, Method: domain.MethodCash, OpeningPesos: 100000},
		{SessionID: sessionID, Method: domain.MethodCard, OpeningPesos: 0},
	}
	opening := &domain.CashMovement{
		ID:          fmt.Sprintf("mov-it-%d", stamp),
		SessionID:   sessionID,
		Type:        domain.MovementOpening,
		AmountPesos: 100000,
		CreatedAt:   openedAt,
	}

	if _, _, err := s.OpenShift(ctx, shift, session, balances, opening); err != nil {
		t.Fatalf("open shift: %v", err)
	}

	// A cash sale after the session opened must count toward expected cash.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, restaurant_id, total_pesos, payment_method, payment_status, status, created_at)
		VALUES ($1, $2, 250000, 'cash', 'paid', 'delivered', now())
	`, orderID, restaurantID); err != nil {
		t.Fatalf("insert order: %v", err)
	}

	closedShift, closedSession, err := s.CloseSessionAndShift(ctx, sessionID, 350000, "conteo exacto", time.Now().UTC())
	if err != nil {
		t.Fatalf("close session: %v", err)
	}

	if closedSession.Status != domain.SessionStatusClosed {
		t.Fatalf("expected closed session, got %s", closedSession.Status)
	}
	if closedSession.SystemPesos == nil || *closedSession.SystemPesos != 350000 {
		t.Fatalf("expected system amount 350000, got %v", closedSession.SystemPesos)
	}
	if closedSession.ClosingPesos == nil || *closedSession.ClosingPesos != 350000 {
		t.Fatalf("expected counted amount 350000, got %v", closedSession.ClosingPesos)
	}
	if closedShift.Status != domain.ShiftStatusClosed || closedShift.EndedAt == nil {
		t.Fatalf("expected closed shift with end timestamp, got %+v", closedShift)
	}

	// A second close must fail: the session is no longer open.
	if _, _, err := s.CloseSessionAndShift(ctx, sessionID, 350000, "", time.Now().UTC()); err == nil {
		t.Fatalf("expected second close to fail")
	}
}
