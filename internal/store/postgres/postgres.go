package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pargorojo/backend/internal/domain"
	"pargorojo/backend/internal/reconcile"
	"pargorojo/backend/internal/store"
	"pargorojo/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListShiftDefinitions(ctx context.Context) ([]domain.ShiftDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, start_hour, end_hour
		FROM shift_definitions
		ORDER BY start_hour
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	definitions := make([]domain.ShiftDefinition, 0, 4)
	for rows.Next() {
		var def domain.ShiftDefinition
		if err := rows.Scan(&def.ID, &def.Name, &def.StartHour, &def.EndHour); err != nil {
			return nil, err
		}
		definitions = append(definitions, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return definitions, nil
}

// OpenShift writes the shift header, the session, all opening balances and
// the optional opening cash movement in one serializable transaction. The
// one-open-shift-per-user invariant is a partial unique index
// (uq_shifts_user_open ON shifts (user_id) WHERE status = 'open'), so a
// concurrent duplicate clock-in loses the race at the database, not in
// application code.
func (s *Store) OpenShift(ctx context.Context, shift domain.Shift, session domain.CashboxSession, balances []domain.SessionBalance, opening *domain.CashMovement) (*domain.Shift, *domain.CashboxSession, error) {
	if strings.TrimSpace(shift.RestaurantID) == "" || strings.TrimSpace(shift.UserID) == "" {
		return nil, nil, store.ErrValidation
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shifts (
			id, restaurant_id, user_id, definition_id, status, opening_notes, started_at, ended_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULL)
	`, shift.ID, shift.RestaurantID, shift.UserID, nullIfEmpty(shift.DefinitionID), shift.Status,
		strings.TrimSpace(shift.OpeningNotes), shift.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrShiftOpen
		}
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cashbox_sessions (
			id, shift_id, restaurant_id, user_id, status, opened_at,
			closing_pesos, system_pesos, closing_notes, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,NULL,NULL,'',NULL)
	`, session.ID, session.ShiftID, session.RestaurantID, session.UserID, session.Status, session.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, store.ErrShiftOpen
		}
		return nil, nil, err
	}

	for _, balance := range balances {
		if balance.OpeningPesos < 0 {
			return nil, nil, store.ErrValidation
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_balances (session_id, method, opening_pesos)
			VALUES ($1,$2,$3)
		`, session.ID, balance.Method, balance.OpeningPesos)
		if err != nil {
			return nil, nil, err
		}
	}

	if opening != nil {
		if opening.ID == "" {
			opening.ID = xid.New("mov")
		}
		if opening.CreatedAt.IsZero() {
			opening.CreatedAt = session.OpenedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cash_movements (id, session_id, type, amount_pesos, note, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, opening.ID, session.ID, domain.MovementOpening, opening.AmountPesos, strings.TrimSpace(opening.Note), opening.CreatedAt)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	savedShift := shift
	savedSession := session
	return &savedShift, &savedSession, nil
}

func (s *Store) GetActiveShiftByUser(ctx context.Context, userID string) (*domain.Shift, *domain.CashboxSession, error) {
	var shift domain.Shift
	var definitionID sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, user_id, definition_id, status, opening_notes, started_at, ended_at
		FROM shifts
		WHERE user_id = $1 AND status = 'open'
		ORDER BY started_at DESC
		LIMIT 1
	`, userID).Scan(
		&shift.ID,
		&shift.RestaurantID,
		&shift.UserID,
		&definitionID,
		&shift.Status,
		&shift.OpeningNotes,
		&shift.StartedAt,
		&endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if definitionID.Valid {
		shift.DefinitionID = definitionID.String
	}
	shift.StartedAt = shift.StartedAt.UTC()
	if endedAt.Valid {
		at := endedAt.Time.UTC()
		shift.EndedAt = &at
	}

	session, err := s.getSessionByShift(ctx, shift.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}

	return &shift, session, nil
}

func (s *Store) getSessionByShift(ctx context.Context, shiftID string) (*domain.CashboxSession, error) {
	return s.querySession(ctx, `
		SELECT id, shift_id, restaurant_id, user_id, status, opened_at,
			closing_pesos, system_pesos, closing_notes, closed_at
		FROM cashbox_sessions
		WHERE shift_id = $1
		ORDER BY opened_at DESC
		LIMIT 1
	`, shiftID)
}

func (s *Store) GetSessionByID(ctx context.Context, sessionID string) (*domain.CashboxSession, error) {
	return s.querySession(ctx, `
		SELECT id, shift_id, restaurant_id, user_id, status, opened_at,
			closing_pesos, system_pesos, closing_notes, closed_at
		FROM cashbox_sessions
		WHERE id = $1
	`, sessionID)
}

func (s *Store) querySession(ctx context.Context, query string, arg string) (*domain.CashboxSession, error) {
	var session domain.CashboxSession
	var closing, system sql.NullInt64
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&session.ID,
		&session.ShiftID,
		&session.RestaurantID,
		&session.UserID,
		&session.Status,
		&session.OpenedAt,
		&closing,
		&system,
		&session.ClosingNotes,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closing.Valid {
		v := closing.Int64
		session.ClosingPesos = &v
	}
	if system.Valid {
		v := system.Int64
		session.SystemPesos = &v
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) GetSessionBalances(ctx context.Context, sessionID string) ([]domain.SessionBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, method, opening_pesos
		FROM session_balances
		WHERE session_id = $1
		ORDER BY method
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make([]domain.SessionBalance, 0, 4)
	for rows.Next() {
		var balance domain.SessionBalance
		if err := rows.Scan(&balance.SessionID, &balance.Method, &balance.OpeningPesos); err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

// CloseSessionAndShift locks the session row, recomputes the expected drawer
// cash from orders and vouchers inside the same transaction, and closes
// session and shift together. A failure anywhere rolls the whole close back,
// so the pair can never end up half closed.
func (s *Store) CloseSessionAndShift(ctx context.Context, sessionID string, countedPesos int64, notes string, closedAt time.Time) (*domain.Shift, *domain.CashboxSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil, store.ErrValidation
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var session domain.CashboxSession
	err = tx.QueryRowContext(ctx, `
		SELECT id, shift_id, restaurant_id, user_id, status, opened_at
		FROM cashbox_sessions
		WHERE id = $1
		FOR UPDATE
	`, sessionID).Scan(
		&session.ID,
		&session.ShiftID,
		&session.RestaurantID,
		&session.UserID,
		&session.Status,
		&session.OpenedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, nil, store.ErrSessionClosed
	}
	session.OpenedAt = session.OpenedAt.UTC()

	var openingCash int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(opening_pesos),0)::bigint
		FROM session_balances
		WHERE session_id = $1 AND method = $2
	`, session.ID, domain.MethodCash).Scan(&openingCash)
	if err != nil {
		return nil, nil, err
	}

	// created_at >= opened_at is the sole attribution boundary for the
	// session; the lower bound is inclusive.
	var cashSales int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_pesos),0)::bigint
		FROM orders
		WHERE restaurant_id = $1
			AND created_at >= $2
			AND status = $3
			AND payment_status = $4
			AND COALESCE(NULLIF(payment_method, ''), 'cash') = $5
	`, session.RestaurantID, session.OpenedAt, domain.OrderStatusDelivered, domain.PaymentStatusPaid, domain.MethodCash).Scan(&cashSales)
	if err != nil {
		return nil, nil, err
	}

	var expenses int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_pesos),0)::bigint
		FROM petty_cash_vouchers
		WHERE restaurant_id = $1 AND created_at >= $2
	`, session.RestaurantID, session.OpenedAt).Scan(&expenses)
	if err != nil {
		return nil, nil, err
	}

	expected := reconcile.ExpectedCash(openingCash, cashSales, expenses)

	_, err = tx.ExecContext(ctx, `
		UPDATE cashbox_sessions
		SET status = 'closed', closing_pesos = $2, system_pesos = $3, closing_notes = $4, closed_at = $5
		WHERE id = $1 AND status = 'open'
	`, session.ID, countedPesos, expected, strings.TrimSpace(notes), closedAt)
	if err != nil {
		return nil, nil, err
	}

	var shift domain.Shift
	var definitionID sql.NullString
	var endedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', ended_at = $2
		WHERE id = $1 AND status = 'open'
		RETURNING id, restaurant_id, user_id, definition_id, status, opening_notes, started_at, ended_at
	`, session.ShiftID, closedAt).Scan(
		&shift.ID,
		&shift.RestaurantID,
		&shift.UserID,
		&definitionID,
		&shift.Status,
		&shift.OpeningNotes,
		&shift.StartedAt,
		&endedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if definitionID.Valid {
		shift.DefinitionID = definitionID.String
	}
	shift.StartedAt = shift.StartedAt.UTC()
	if endedAt.Valid {
		at := endedAt.Time.UTC()
		shift.EndedAt = &at
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	session.Status = domain.SessionStatusClosed
	session.ClosingPesos = &countedPesos
	session.SystemPesos = &expected
	session.ClosingNotes = strings.TrimSpace(notes)
	session.ClosedAt = &closedAt
	return &shift, &session, nil
}

func (s *Store) SumDeliveredPaidSalesByMethod(ctx context.Context, restaurantID string, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(payment_method, ''), 'cash') AS method,
			COALESCE(SUM(total_pesos),0)::bigint
		FROM orders
		WHERE restaurant_id = $1
			AND created_at >= $2
			AND status = $3
			AND payment_status = $4
		GROUP BY method
	`, restaurantID, since, domain.OrderStatusDelivered, domain.PaymentStatusPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int64, 4)
	for rows.Next() {
		var method string
		var total int64
		if err := rows.Scan(&method, &total); err != nil {
			return nil, err
		}
		totals[method] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) SumVoucherExpenses(ctx context.Context, restaurantID string, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_pesos),0)::bigint
		FROM petty_cash_vouchers
		WHERE restaurant_id = $1 AND created_at >= $2
	`, restaurantID, since).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CreateCashMovement(ctx context.Context, movement domain.CashMovement) (*domain.CashMovement, error) {
	if strings.TrimSpace(movement.SessionID) == "" || movement.AmountPesos <= 0 {
		return nil, store.ErrValidation
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM cashbox_sessions WHERE id = $1
	`, movement.SessionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SessionStatusOpen {
		return nil, store.ErrSessionClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cash_movements (id, session_id, type, amount_pesos, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, movement.ID, movement.SessionID, movement.Type, movement.AmountPesos, strings.TrimSpace(movement.Note), movement.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := movement
	return &saved, nil
}

func (s *Store) ListCashMovements(ctx context.Context, sessionID string, limit int) ([]domain.CashMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, type, amount_pesos, note, created_at
		FROM cash_movements
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, limit)
	for rows.Next() {
		var movement domain.CashMovement
		if err := rows.Scan(&movement.ID, &movement.SessionID, &movement.Type, &movement.AmountPesos, &movement.Note, &movement.CreatedAt); err != nil {
			return nil, err
		}
		movement.CreatedAt = movement.CreatedAt.UTC()
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.RestaurantID) == "" || order.TotalPesos < 1 {
		return nil, store.ErrValidation
	}
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, restaurant_id, total_pesos, payment_method, payment_status, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.RestaurantID, order.TotalPesos, order.PaymentMethod, order.PaymentStatus, order.Status, order.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := order
	return &saved, nil
}

func (s *Store) CreatePettyCashVoucher(ctx context.Context, voucher domain.PettyCashVoucher) (*domain.PettyCashVoucher, error) {
	if strings.TrimSpace(voucher.RestaurantID) == "" || voucher.AmountPesos < 1 {
		return nil, store.ErrValidation
	}
	if voucher.ID == "" {
		voucher.ID = xid.New("pcv")
	}
	if voucher.CreatedAt.IsZero() {
		voucher.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO petty_cash_vouchers (id, restaurant_id, amount_pesos, concept, issued_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, voucher.ID, voucher.RestaurantID, voucher.AmountPesos, strings.TrimSpace(voucher.Concept), voucher.IssuedBy, voucher.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved := voucher
	return &saved, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, restaurant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.RestaurantID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if strings.TrimSpace(user.Username) == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, strings.ToLower(strings.TrimSpace(user.Username)), user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrValidation
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
