package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pargorojo/backend/internal/cache"
	"pargorojo/backend/internal/domain"
	"pargorojo/backend/internal/recommendation"
	"pargorojo/backend/internal/reconcile"
	"pargorojo/backend/internal/store"
	"pargorojo/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo                store.Repository
	previews            cache.PreviewCache
	previewTTL          time.Duration
	defaultRestaurantID string
}

func New(repo store.Repository, previews cache.PreviewCache, previewTTL time.Duration, defaultRestaurantID string) *Service {
	if defaultRestaurantID == "" {
		defaultRestaurantID = "pargo-rojo"
	}
	if previewTTL <= 0 {
		previewTTL = 15 * time.Second
	}

	return &Service{
		repo:                repo,
		previews:            previews,
		previewTTL:          previewTTL,
		defaultRestaurantID: defaultRestaurantID,
	}
}

func (s *Service) ListShiftDefinitions(ctx context.Context) ([]domain.ShiftDefinition, error) {
	return s.repo.ListShiftDefinitions(ctx)
}

// RecommendedShift returns the definition whose window contains now. The
// recommendation is advisory; OpenShift accepts any definition.
func (s *Service) RecommendedShift(ctx context.Context) (domain.RecommendedShiftResponse, error) {
	definitions, err := s.repo.ListShiftDefinitions(ctx)
	if err != nil {
		return domain.RecommendedShiftResponse{}, err
	}
	return domain.RecommendedShiftResponse{
		Definition: recommendation.Suggest(definitions, time.Now().UTC()),
		All:        definitions,
	}, nil
}

// OpenShift clocks the acting user in and opens their cashbox session in one
// transaction. When the user already has an open shift the existing shift and
// session are returned with AlreadyOpen set instead of an error.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftOpenResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShiftOpenResponse{}, fmt.Errorf("authenticated user required")
	}
	if req.RestaurantID == "" {
		req.RestaurantID = s.defaultRestaurantID
	}
	opening := req.Opening
	if opening.CashPesos < 0 || opening.CardPesos < 0 || opening.TransferPesos < 0 || opening.AppPesos < 0 {
		return domain.ShiftOpenResponse{}, store.ErrValidation
	}

	now := time.Now().UTC()
	shift := domain.Shift{
		ID:           xid.New("shift"),
		RestaurantID: req.RestaurantID,
		UserID:       actor.Username,
		DefinitionID: strings.TrimSpace(req.DefinitionID),
		Status:       domain.ShiftStatusOpen,
		OpeningNotes: strings.TrimSpace(req.OpeningNotes),
		StartedAt:    now,
	}
	session := domain.CashboxSession{
		ID:       xid.New("cbx"),
		OpenedAt: now,
	}
	balances := []domain.SessionBalance{
		{Method: domain.MethodCash, OpeningPesos: opening.CashPesos},
		{Method: domain.MethodCard, OpeningPesos: opening.CardPesos},
		{Method: domain.MethodTransfer, OpeningPesos: opening.TransferPesos},
		{Method: domain.MethodApp, OpeningPesos: opening.AppPesos},
	}

	var openingMovement *domain.CashMovement
	if opening.CashPesos > 0 {
		openingMovement = &domain.CashMovement{
			Type:        domain.MovementOpening,
			AmountPesos: opening.CashPesos,
			Note:        "opening float",
			CreatedAt:   now,
		}
	}

	savedShift, savedSession, err := s.repo.OpenShift(ctx, shift, session, balances, openingMovement)
	if err != nil {
		if errors.Is(err, store.ErrShiftOpen) {
			existingShift, existingSession, lookupErr := s.repo.GetActiveShiftByUser(ctx, actor.Username)
			if lookupErr != nil {
				return domain.ShiftOpenResponse{}, err
			}
			resp := domain.ShiftOpenResponse{Shift: *existingShift, AlreadyOpen: true}
			if existingSession != nil {
				resp.Session = *existingSession
			}
			return resp, nil
		}
		return domain.ShiftOpenResponse{}, err
	}

	s.logAudit(ctx, req.RestaurantID, "shift_open", "shift", savedShift.ID,
		fmt.Sprintf("definition=%s,opening_cash=%d", savedShift.DefinitionID, opening.CashPesos))

	return domain.ShiftOpenResponse{Shift: *savedShift, Session: *savedSession}, nil
}

func (s *Service) ActiveShift(ctx context.Context) (domain.ActiveShiftResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ActiveShiftResponse{}, fmt.Errorf("authenticated user required")
	}

	shift, session, err := s.repo.GetActiveShiftByUser(ctx, actor.Username)
	if err != nil {
		return domain.ActiveShiftResponse{}, err
	}
	resp := domain.ActiveShiftResponse{Shift: *shift}
	if session != nil {
		resp.Session = *session
	}
	return resp, nil
}

// Preview aggregates sales and expenses since the session opened and derives
// the expected drawer cash. The tally is optional; when present the counted
// total and variance are included. The aggregate part is cached briefly per
// session so refreshing the close screen does not re-scan orders every time.
func (s *Service) Preview(ctx context.Context, sessionID string, tally []domain.DenominationLine) (domain.ReconciliationPreview, error) {
	session, err := s.authorizedSession(ctx, sessionID)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.ReconciliationPreview{}, store.ErrSessionClosed
	}

	preview, err := s.buildPreview(ctx, session)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}

	if len(tally) > 0 {
		counted, err := reconcile.CountedTotal(tally)
		if err != nil {
			return domain.ReconciliationPreview{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
		}
		preview.CountedPesos = counted
		preview.VariancePesos = reconcile.Variance(counted, preview.ExpectedPesos)
	}

	return preview, nil
}

func (s *Service) buildPreview(ctx context.Context, session *domain.CashboxSession) (domain.ReconciliationPreview, error) {
	if cached, ok, err := s.previews.Get(ctx, session.ID); err != nil {
		slog.Warn("preview cache get failed", "session_id", session.ID, "error", err)
	} else if ok {
		return *cached, nil
	}

	balances, err := s.repo.GetSessionBalances(ctx, session.ID)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}
	var openingCash int64
	for _, balance := range balances {
		if balance.Method == domain.MethodCash {
			openingCash += balance.OpeningPesos
		}
	}

	sales, err := s.repo.SumDeliveredPaidSalesByMethod(ctx, session.RestaurantID, session.OpenedAt)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}
	expenses, err := s.repo.SumVoucherExpenses(ctx, session.RestaurantID, session.OpenedAt)
	if err != nil {
		return domain.ReconciliationPreview{}, err
	}

	byMethod := make([]domain.MethodTotal, 0, len(sales))
	for _, method := range []string{domain.MethodCash, domain.MethodCard, domain.MethodTransfer, domain.MethodApp, domain.MethodCredit} {
		if total, ok := sales[method]; ok {
			byMethod = append(byMethod, domain.MethodTotal{Method: method, TotalPesos: total})
		}
	}

	cashSales := sales[domain.MethodCash]
	preview := domain.ReconciliationPreview{
		SessionID:        session.ID,
		OpenedAt:         session.OpenedAt,
		OpeningCashPesos: openingCash,
		SalesByMethod:    byMethod,
		CashSalesPesos:   cashSales,
		ExpensesPesos:    expenses,
		ExpectedPesos:    reconcile.ExpectedCash(openingCash, cashSales, expenses),
		GeneratedAt:      time.Now().UTC(),
	}

	if err := s.previews.Set(ctx, session.ID, &preview, s.previewTTL); err != nil {
		slog.Warn("preview cache set failed", "session_id", session.ID, "error", err)
	}
	return preview, nil
}

// CloseCashbox closes the session and its shift in one transaction. A zero
// counted total is rejected to prevent accidental empty-count closes; any
// nonzero variance is allowed and persisted for audit.
func (s *Service) CloseCashbox(ctx context.Context, sessionID string, req domain.CashboxCloseRequest) (domain.CashboxCloseResponse, error) {
	counted, err := reconcile.CountedTotal(req.Tally)
	if err != nil {
		return domain.CashboxCloseResponse{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if counted == 0 {
		return domain.CashboxCloseResponse{}, fmt.Errorf("%w: counted total is zero", store.ErrValidation)
	}

	session, err := s.authorizedSession(ctx, sessionID)
	if err != nil {
		return domain.CashboxCloseResponse{}, err
	}

	shift, closed, err := s.repo.CloseSessionAndShift(ctx, session.ID, counted, req.ClosingNotes, time.Now().UTC())
	if err != nil {
		return domain.CashboxCloseResponse{}, err
	}

	expected := *closed.SystemPesos
	variance := reconcile.Variance(counted, expected)

	if err := s.previews.Invalidate(ctx, session.ID); err != nil {
		slog.Warn("preview cache invalidate failed", "session_id", session.ID, "error", err)
	}

	s.logAudit(ctx, closed.RestaurantID, "cashbox_close", "cashbox_session", closed.ID,
		fmt.Sprintf("counted=%d,expected=%d,variance=%d,%s", counted, expected, variance, reconcile.Classify(variance)))

	return domain.CashboxCloseResponse{
		Shift:         *shift,
		Session:       *closed,
		CountedPesos:  counted,
		ExpectedPesos: expected,
		VariancePesos: variance,
	}, nil
}

func (s *Service) RecordMovement(ctx context.Context, sessionID string, req domain.MovementCreateRequest) (domain.CashMovement, error) {
	switch req.Type {
	case domain.MovementSale, domain.MovementExpense, domain.MovementAdjustment:
	default:
		// "opening" is written only by OpenShift.
		return domain.CashMovement{}, fmt.Errorf("%w: unsupported movement type %q", store.ErrValidation, req.Type)
	}
	if req.AmountPesos <= 0 {
		return domain.CashMovement{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}

	session, err := s.authorizedSession(ctx, sessionID)
	if err != nil {
		return domain.CashMovement{}, err
	}

	movement, err := s.repo.CreateCashMovement(ctx, domain.CashMovement{
		SessionID:   session.ID,
		Type:        req.Type,
		AmountPesos: req.AmountPesos,
		Note:        req.Note,
	})
	if err != nil {
		return domain.CashMovement{}, err
	}
	return *movement, nil
}

func (s *Service) ListMovements(ctx context.Context, sessionID string, limit int) (domain.MovementListResponse, error) {
	session, err := s.authorizedSession(ctx, sessionID)
	if err != nil {
		return domain.MovementListResponse{}, err
	}
	movements, err := s.repo.ListCashMovements(ctx, session.ID, limit)
	if err != nil {
		return domain.MovementListResponse{}, err
	}
	return domain.MovementListResponse{Movements: movements}, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	if req.RestaurantID == "" {
		req.RestaurantID = s.defaultRestaurantID
	}
	if req.TotalPesos < 1 {
		return domain.Order{}, fmt.Errorf("%w: order total must be positive", store.ErrValidation)
	}
	switch req.PaymentMethod {
	case "", domain.MethodCash, domain.MethodCard, domain.MethodTransfer, domain.MethodApp, domain.MethodCredit:
	default:
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	if req.PaymentStatus == "" {
		req.PaymentStatus = domain.PaymentStatusPending
	}
	if req.Status == "" {
		req.Status = "placed"
	}

	order, err := s.repo.CreateOrder(ctx, domain.Order{
		RestaurantID:  req.RestaurantID,
		TotalPesos:    req.TotalPesos,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: req.PaymentStatus,
		Status:        req.Status,
	})
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// IssueVoucher records a petty-cash expense. Manager PIN verification happens
// at the API layer before this is called.
func (s *Service) IssueVoucher(ctx context.Context, req domain.VoucherCreateRequest) (domain.PettyCashVoucher, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.PettyCashVoucher{}, fmt.Errorf("authenticated user required")
	}
	if req.RestaurantID == "" {
		req.RestaurantID = s.defaultRestaurantID
	}
	if req.AmountPesos < 1 {
		return domain.PettyCashVoucher{}, fmt.Errorf("%w: voucher amount must be positive", store.ErrValidation)
	}
	if strings.TrimSpace(req.Concept) == "" {
		return domain.PettyCashVoucher{}, fmt.Errorf("%w: voucher concept required", store.ErrValidation)
	}

	voucher, err := s.repo.CreatePettyCashVoucher(ctx, domain.PettyCashVoucher{
		RestaurantID: req.RestaurantID,
		AmountPesos:  req.AmountPesos,
		Concept:      strings.TrimSpace(req.Concept),
		IssuedBy:     actor.Username,
	})
	if err != nil {
		return domain.PettyCashVoucher{}, err
	}

	s.logAudit(ctx, req.RestaurantID, "voucher_issue", "petty_cash_voucher", voucher.ID,
		fmt.Sprintf("amount=%d,concept=%s", voucher.AmountPesos, voucher.Concept))

	return *voucher, nil
}

// authorizedSession loads a session and checks the acting user may touch it:
// the session owner, or anyone with the manager or admin role.
func (s *Service) authorizedSession(ctx context.Context, sessionID string) (*domain.CashboxSession, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authenticated user required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id required", store.ErrValidation)
	}

	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != actor.Username && actor.Role != "manager" && actor.Role != "admin" {
		return nil, fmt.Errorf("session belongs to another user")
	}
	return session, nil
}

func (s *Service) logAudit(ctx context.Context, restaurantID, action, entityType, entityID, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		RestaurantID:  restaurantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
	})
	if err != nil {
		slog.Warn("audit log write failed", "action", action, "entity_id", entityID, "error", err)
	}
}
