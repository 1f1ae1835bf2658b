package domain

import "time"

// All monetary amounts are integer Colombian pesos. COP has no practical
// sub-peso unit, so there is no cents column anywhere in the schema.

type ShiftDefinition struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
}

type Shift struct {
	ID           string     `json:"id"`
	RestaurantID string     `json:"restaurant_id"`
	UserID       string     `json:"user_id"`
	DefinitionID string     `json:"definition_id,omitempty"`
	Status       string     `json:"status"`
	OpeningNotes string     `json:"opening_notes,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

type CashboxSession struct {
	ID           string     `json:"id"`
	ShiftID      string     `json:"shift_id"`
	RestaurantID string     `json:"restaurant_id"`
	UserID       string     `json:"user_id"`
	Status       string     `json:"status"`
	OpenedAt     time.Time  `json:"opened_at"`
	ClosingPesos *int64     `json:"closing_pesos,omitempty"`
	SystemPesos  *int64     `json:"system_pesos,omitempty"`
	ClosingNotes string     `json:"closing_notes,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

// SessionBalance is the declared opening amount for one payment method.
type SessionBalance struct {
	SessionID    string `json:"session_id"`
	Method       string `json:"method"`
	OpeningPesos int64  `json:"opening_pesos"`
}

type CashMovement struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Type        string    `json:"type"`
	AmountPesos int64     `json:"amount_pesos"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Order struct {
	ID            string    `json:"id"`
	RestaurantID  string    `json:"restaurant_id"`
	TotalPesos    int64     `json:"total_pesos"`
	PaymentMethod string    `json:"payment_method"`
	PaymentStatus string    `json:"payment_status"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

type PettyCashVoucher struct {
	ID           string    `json:"id"`
	RestaurantID string    `json:"restaurant_id"`
	AmountPesos  int64     `json:"amount_pesos"`
	Concept      string    `json:"concept"`
	IssuedBy     string    `json:"issued_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// DenominationLine is one row of a manual drawer count: a bill or coin face
// value and how many of it were counted. The tally itself is never persisted,
// only the derived total.
type DenominationLine struct {
	ValuePesos int64 `json:"value_pesos"`
	Count      int   `json:"count"`
}

type OpeningAmounts struct {
	CashPesos     int64 `json:"cash_pesos"`
	CardPesos     int64 `json:"card_pesos"`
	TransferPesos int64 `json:"transfer_pesos"`
	AppPesos      int64 `json:"app_pesos"`
}

type ShiftOpenRequest struct {
	RestaurantID string         `json:"restaurant_id"`
	DefinitionID string         `json:"definition_id,omitempty"`
	OpeningNotes string         `json:"opening_notes,omitempty"`
	Opening      OpeningAmounts `json:"opening"`
}

// ShiftOpenResponse carries AlreadyOpen=true when the user already had an
// active shift; that shift and its session are returned instead of new ones.
type ShiftOpenResponse struct {
	Shift       Shift          `json:"shift"`
	Session     CashboxSession `json:"session"`
	AlreadyOpen bool           `json:"already_open"`
}

type ActiveShiftResponse struct {
	Shift   Shift          `json:"shift"`
	Session CashboxSession `json:"session"`
}

type RecommendedShiftResponse struct {
	Definition *ShiftDefinition  `json:"definition,omitempty"`
	All        []ShiftDefinition `json:"all"`
}

type MethodTotal struct {
	Method     string `json:"method"`
	TotalPesos int64  `json:"total_pesos"`
}

// ReconciliationPreview is the pre-close view of a session: aggregated sales
// and expenses since the session opened, and the expected cash derived from
// them. CountedPesos/VariancePesos are filled only when a tally was supplied.
type ReconciliationPreview struct {
	SessionID        string        `json:"session_id"`
	OpenedAt         time.Time     `json:"opened_at"`
	OpeningCashPesos int64         `json:"opening_cash_pesos"`
	SalesByMethod    []MethodTotal `json:"sales_by_method"`
	CashSalesPesos   int64         `json:"cash_sales_pesos"`
	ExpensesPesos    int64         `json:"expenses_pesos"`
	ExpectedPesos    int64         `json:"expected_pesos"`
	CountedPesos     int64         `json:"counted_pesos,omitempty"`
	VariancePesos    int64         `json:"variance_pesos,omitempty"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

type PreviewRequest struct {
	SessionID string             `json:"session_id"`
	Tally     []DenominationLine `json:"tally,omitempty"`
}

type CashboxCloseRequest struct {
	SessionID    string             `json:"session_id"`
	Tally        []DenominationLine `json:"tally"`
	ClosingNotes string             `json:"closing_notes,omitempty"`
}

type CashboxCloseResponse struct {
	Shift         Shift          `json:"shift"`
	Session       CashboxSession `json:"session"`
	CountedPesos  int64          `json:"counted_pesos"`
	ExpectedPesos int64          `json:"expected_pesos"`
	VariancePesos int64          `json:"variance_pesos"`
}

type MovementCreateRequest struct {
	SessionID   string `json:"session_id"`
	Type        string `json:"type"`
	AmountPesos int64  `json:"amount_pesos"`
	Note        string `json:"note,omitempty"`
}

type MovementListResponse struct {
	Movements []CashMovement `json:"movements"`
}

type OrderCreateRequest struct {
	RestaurantID  string `json:"restaurant_id"`
	TotalPesos    int64  `json:"total_pesos"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
	Status        string `json:"status"`
}

type VoucherCreateRequest struct {
	RestaurantID string `json:"restaurant_id"`
	AmountPesos  int64  `json:"amount_pesos"`
	Concept      string `json:"concept"`
	ManagerPIN   string `json:"manager_pin"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	RestaurantID  string    `json:"restaurant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"

	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	MethodCash     = "cash"
	MethodCard     = "card"
	MethodTransfer = "transfer"
	MethodApp      = "app"
	MethodCredit   = "credit"
)

const (
	MovementOpening    = "opening"
	MovementSale       = "sale"
	MovementExpense    = "expense"
	MovementAdjustment = "adjustment"
)

const (
	OrderStatusDelivered = "delivered"
	PaymentStatusPaid    = "paid"
	PaymentStatusPending = "pending"
)
