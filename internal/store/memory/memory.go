// Package memory is an in-memory Repository used by tests and by local runs
// without a DATABASE_URL. It mirrors the postgres implementation's semantics,
// including the one-open-shift-per-user constraint and the transactional
// behavior of OpenShift and CloseSessionAndShift.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pargorojo/backend/internal/domain"
	"pargorojo/backend/internal/reconcile"
	"pargorojo/backend/internal/store"
	"pargorojo/backend/internal/xid"
)

type Store struct {
	mu sync.Mutex

	definitions []domain.ShiftDefinition
	shifts      map[string]*domain.Shift
	sessions    map[string]*domain.CashboxSession
	balances    map[string][]domain.SessionBalance
	movements   map[string][]domain.CashMovement
	orders      []domain.Order
	vouchers    []domain.PettyCashVoucher
	auditLogs   []domain.AuditLog
	users       map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		shifts:    make(map[string]*domain.Shift),
		sessions:  make(map[string]*domain.CashboxSession),
		balances:  make(map[string][]domain.SessionBalance),
		movements: make(map[string][]domain.CashMovement),
		users:     make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with the standard shift definitions and
// demo staff accounts. Passwords are plain text here; the auth manager
// upgrades them to bcrypt hashes on bootstrap.
func NewSeeded() *Store {
	s := New()
	s.definitions = []domain.ShiftDefinition{
		{ID: "def-morning", Name: "Mañana", StartHour: 6, EndHour: 14},
		{ID: "def-afternoon", Name: "Tarde", StartHour: 14, EndHour: 22},
		{ID: "def-night", Name: "Noche", StartHour: 22, EndHour: 6},
	}
	now := time.Now().UTC()
	for _, user := range []domain.UserAccount{
		{Username: "admin", Password: "admin-demo-123", Role: "admin", Active: true, CreatedAt: now},
		{Username: "gerente", Password: "gerente-demo-123", Role: "manager", Active: true, CreatedAt: now},
		{Username: "cajero", Password: "cajero-demo-123", Role: "cashier", Active: true, CreatedAt: now},
	} {
		s.users[user.Username] = user
	}
	return s
}

func (s *Store) ListShiftDefinitions(_ context.Context) ([]domain.ShiftDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ShiftDefinition, len(s.definitions))
	copy(out, s.definitions)
	return out, nil
}

func (s *Store) OpenShift(_ context.Context, shift domain.Shift, session domain.CashboxSession, balances []domain.SessionBalance, opening *domain.CashMovement) (*domain.Shift, *domain.CashboxSession, error) {
	if strings.TrimSpace(shift.RestaurantID) == "" || strings.TrimSpace(shift.UserID) == "" {
		return nil, nil, store.ErrValidation
	}
	for _, balance := range balances {
		if balance.OpeningPesos < 0 {
			return nil, nil, store.ErrValidation
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shifts {
		if existing.UserID == shift.UserID && existing.Status == domain.ShiftStatusOpen {
			return nil, nil, store.ErrShiftOpen
		}
	}

	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if session.ID == "" {
		session.ID = xid.New("cbx")
	}
	if shift.StartedAt.IsZero() {
		shift.StartedAt = time.Now().UTC()
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = shift.StartedAt
	}
	shift.Status = domain.ShiftStatusOpen
	shift.EndedAt = nil
	session.ShiftID = shift.ID
	session.RestaurantID = shift.RestaurantID
	session.UserID = shift.UserID
	session.Status = domain.SessionStatusOpen
	session.ClosingPesos = nil
	session.SystemPesos = nil
	session.ClosedAt = nil

	storedShift := shift
	storedSession := session
	s.shifts[shift.ID] = &storedShift
	s.sessions[session.ID] = &storedSession

	sessionBalances := make([]domain.SessionBalance, 0, len(balances))
	for _, balance := range balances {
		balance.SessionID = session.ID
		sessionBalances = append(sessionBalances, balance)
	}
	s.balances[session.ID] = sessionBalances

	if opening != nil {
		movement := *opening
		if movement.ID == "" {
			movement.ID = xid.New("mov")
		}
		if movement.CreatedAt.IsZero() {
			movement.CreatedAt = session.OpenedAt
		}
		movement.SessionID = session.ID
		movement.Type = domain.MovementOpening
		s.movements[session.ID] = append(s.movements[session.ID], movement)
	}

	savedShift := storedShift
	savedSession := storedSession
	return &savedShift, &savedSession, nil
}

func (s *Store) GetActiveShiftByUser(_ context.Context, userID string) (*domain.Shift, *domain.CashboxSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, shift := range s.shifts {
		if shift.UserID != userID || shift.Status != domain.ShiftStatusOpen {
			continue
		}
		found := *shift
		for _, session := range s.sessions {
			if session.ShiftID == shift.ID {
				foundSession := *session
				return &found, &foundSession, nil
			}
		}
		return &found, nil, nil
	}
	return nil, nil, store.ErrNotFound
}

func (s *Store) GetSessionByID(_ context.Context, sessionID string) (*domain.CashboxSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *session
	return &found, nil
}

func (s *Store) GetSessionBalances(_ context.Context, sessionID string) ([]domain.SessionBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := s.balances[sessionID]
	out := make([]domain.SessionBalance, len(balances))
	copy(out, balances)
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (s *Store) CloseSessionAndShift(_ context.Context, sessionID string, countedPesos int64, notes string, closedAt time.Time) (*domain.Shift, *domain.CashboxSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil, store.ErrValidation
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, nil, store.ErrSessionClosed
	}
	shift, ok := s.shifts[session.ShiftID]
	if !ok || shift.Status != domain.ShiftStatusOpen {
		return nil, nil, store.ErrNotFound
	}

	var openingCash int64
	for _, balance := range s.balances[sessionID] {
		if balance.Method == domain.MethodCash {
			openingCash += balance.OpeningPesos
		}
	}
	cashSales := s.sumSalesLocked(session.RestaurantID, session.OpenedAt)[domain.MethodCash]
	expenses := s.sumVouchersLocked(session.RestaurantID, session.OpenedAt)
	expected := reconcile.ExpectedCash(openingCash, cashSales, expenses)

	session.Status = domain.SessionStatusClosed
	session.ClosingPesos = &countedPesos
	session.SystemPesos = &expected
	session.ClosingNotes = strings.TrimSpace(notes)
	session.ClosedAt = &closedAt

	shift.Status = domain.ShiftStatusClosed
	shift.EndedAt = &closedAt

	closedShift := *shift
	closedSession := *session
	return &closedShift, &closedSession, nil
}

func (s *Store) sumSalesLocked(restaurantID string, since time.Time) map[string]int64 {
	totals := make(map[string]int64, 4)
	for _, order := range s.orders {
		if order.RestaurantID != restaurantID {
			continue
		}
		if order.CreatedAt.Before(since) {
			continue
		}
		if order.Status != domain.OrderStatusDelivered || order.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}
		method := order.PaymentMethod
		if method == "" {
			method = domain.MethodCash
		}
		totals[method] += order.TotalPesos
	}
	return totals
}

func (s *Store) sumVouchersLocked(restaurantID string, since time.Time) int64 {
	var total int64
	for _, voucher := range s.vouchers {
		if voucher.RestaurantID != restaurantID {
			continue
		}
		if voucher.CreatedAt.Before(since) {
			continue
		}
		total += voucher.AmountPesos
	}
	return total
}

func (s *Store) SumDeliveredPaidSalesByMethod(_ context.Context, restaurantID string, since time.Time) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumSalesLocked(restaurantID, since), nil
}

func (s *Store) SumVoucherExpenses(_ context.Context, restaurantID string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sumVouchersLocked(restaurantID, since), nil
}

func (s *Store) CreateCashMovement(_ context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if strings.TrimSpace(movement.SessionID) == "" || movement.AmountPesos <= 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[movement.SessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, store.ErrSessionClosed
	}

	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	movement.Note = strings.TrimSpace(movement.Note)
	s.movements[movement.SessionID] = append(s.movements[movement.SessionID], movement)

	saved := movement
	return &saved, nil
}

func (s *Store) ListCashMovements(_ context.Context, sessionID string, limit int) ([]domain.CashMovement, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	movements := s.movements[sessionID]
	out := make([]domain.CashMovement, 0, len(movements))
	out = append(out, movements...)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.RestaurantID) == "" || order.TotalPesos < 1 {
		return nil, store.ErrValidation
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = append(s.orders, order)
	saved := order
	return &saved, nil
}

func (s *Store) CreatePettyCashVoucher(_ context.Context, voucher domain.PettyCashVoucher) (*domain.PettyCashVoucher, error) {
	if strings.TrimSpace(voucher.RestaurantID) == "" || voucher.AmountPesos < 1 {
		return nil, store.ErrValidation
	}
	if voucher.ID == "" {
		voucher.ID = xid.New("pcv")
	}
	if voucher.CreatedAt.IsZero() {
		voucher.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vouchers = append(s.vouchers, voucher)
	saved := voucher
	return &saved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return store.ErrValidation
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
