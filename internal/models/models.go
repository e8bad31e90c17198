package models

import (
	"time"

	"duo-pass-api/internal/catalog"
)

// MonthPass is one user's entitlement for one calendar month.
type MonthPass struct {
	ID                string         `json:"id"`      // uuid
	UserID            string         `json:"user_id"` // opaque
	Month             string         `json:"month"`   // YYYY-MM
	Tier              catalog.TierID `json:"tier"`
	Status            PassStatus     `json:"status"`
	MaxCompanions     int            `json:"max_companions"` // snapshot of tier capacity at issue time
	CurrentCompanions int            `json:"current_companions"`
	PricePaid         int64          `json:"price_paid"` // minor units, full price of Tier
	PurchasedAt       time.Time      `json:"purchased_at"`
	UpgradedToID      *string        `json:"upgraded_to_id,omitempty"`
	RefundedAt        *time.Time     `json:"refunded_at,omitempty"`
}

// HasFreeSlot reports whether another companion fits on the pass.
func (p MonthPass) HasFreeSlot() bool {
	return p.CurrentCompanions < p.MaxCompanions
}

// TransactionKind is the economic event a Transaction records.
type TransactionKind string

const (
	TransactionCharge        TransactionKind = "charge"
	TransactionUpgradeCharge TransactionKind = "upgrade_charge"
	TransactionRefund        TransactionKind = "refund"
)

// Transaction is an append-only ledger row.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	PassID    string          `json:"pass_id"`
	Month     string          `json:"month"`
	Tier      catalog.TierID  `json:"tier"`
	Kind      TransactionKind `json:"kind"`
	Amount    int64           `json:"amount"` // minor units, never negative
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MatchStatus records whether the user was paired with a mentor for a month.
type MatchStatus struct {
	UserID            string     `json:"user_id"`
	Month             string     `json:"month"`
	Matched           bool       `json:"matched"`
	MatchedAt         *time.Time `json:"matched_at,omitempty"`
	MatchedWithUserID *string    `json:"matched_with_user_id,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// BlockReason explains why a month cannot be purchased.
type BlockReason string

const (
	BlockMonthElapsed             BlockReason = "month_elapsed"
	BlockAlreadyOwnedSameOrHigher BlockReason = "already_owned_same_or_higher"
)

// PurchasableMonth is a month with no active pass.
type PurchasableMonth struct {
	Month string `json:"month"`
	Price int64  `json:"price"`
}

// UpgradeableMonth is a month whose active pass sits below the requested tier.
type UpgradeableMonth struct {
	Month    string         `json:"month"`
	PassID   string         `json:"pass_id"`
	FromTier catalog.TierID `json:"from_tier"`
	ToTier   catalog.TierID `json:"to_tier"`
	Price    int64          `json:"price"` // delta only
}

// BlockedMonth is a month that cannot be acted on.
type BlockedMonth struct {
	Month        string          `json:"month"`
	Reason       BlockReason     `json:"reason"`
	ExistingTier *catalog.TierID `json:"existing_tier,omitempty"`
}

// ConflictResult classifies each requested month for a tier.
type ConflictResult struct {
	Tier        catalog.TierID     `json:"tier"`
	Purchasable []PurchasableMonth `json:"purchasable_months"`
	Upgradeable []UpgradeableMonth `json:"upgradeable_months"`
	Blocked     []BlockedMonth     `json:"blocked_months"`
	TotalPrice  int64              `json:"total_price"`
	CanProceed  bool               `json:"can_proceed"`
}

// PurchaseAction says what a committed purchase item did.
type PurchaseAction string

const (
	ActionPurchased PurchaseAction = "purchased"
	ActionUpgraded  PurchaseAction = "upgraded"
)

// PurchasedMonth is one committed month of a purchase.
type PurchasedMonth struct {
	Month       string         `json:"month"`
	Action      PurchaseAction `json:"action"`
	Pass        MonthPass      `json:"pass"`
	Transaction Transaction    `json:"transaction"`
	PreviousID  string         `json:"previous_pass_id,omitempty"`
}

// PurchaseResult reports a purchase. Rejected is set when no month could be
// acted on; nothing was written in that case.
type PurchaseResult struct {
	UserID      string           `json:"user_id"`
	Tier        catalog.TierID   `json:"tier"`
	Rejected    bool             `json:"rejected"`
	Committed   []PurchasedMonth `json:"committed"`
	Blocked     []BlockedMonth   `json:"blocked_months"`
	TotalCharge int64            `json:"total_charge"`
}

// RefundedPass is one pass refunded by a sweep.
type RefundedPass struct {
	PassID string         `json:"pass_id"`
	UserID string         `json:"user_id"`
	Month  string         `json:"month"`
	Tier   catalog.TierID `json:"tier"`
	Amount int64          `json:"amount"`
}

// RefundReport summarizes a refund sweep.
type RefundReport struct {
	CurrentMonth string         `json:"current_month"`
	Scanned      int            `json:"scanned"`
	Matched      int            `json:"matched"`
	Refunded     []RefundedPass `json:"refunded"`
}

// MatchUpdate is the external matcher's signal for one user-month.
type MatchUpdate struct {
	Matched           bool       `json:"matched"`
	MatchedAt         *time.Time `json:"matched_at,omitempty"`
	MatchedWithUserID *string    `json:"matched_with_user_id,omitempty"`
}

// QuoteRequest is the body of POST /users/{user_id}/passes/quote and
// POST /users/{user_id}/passes.
type QuoteRequest struct {
	Tier   string   `json:"tier" validate:"required,oneof=go run fly"`
	Months []string `json:"months" validate:"required,min=1,max=24,dive,required"`
}

// MatchRequest is the body of PUT /users/{user_id}/matches/{month}.
type MatchRequest struct {
	Matched           bool       `json:"matched"`
	MatchedAt         *time.Time `json:"matched_at"`
	MatchedWithUserID *string    `json:"matched_with_user_id" validate:"omitempty,min=1,max=128"`
}

// CompanionAccessResponse answers an access check.
type CompanionAccessResponse struct {
	UserID        string                `json:"user_id"`
	Month         string                `json:"month"`
	CompanionType catalog.CompanionType `json:"companion_type"`
	Allowed       bool                  `json:"allowed"`
}

// CompanionMonthsResponse lists months usable for a companion type.
type CompanionMonthsResponse struct {
	UserID        string                `json:"user_id"`
	CompanionType catalog.CompanionType `json:"companion_type"`
	Months        []string              `json:"months"`
}

// CompanionIncrementResponse is returned when a companion slot is taken.
type CompanionIncrementResponse struct {
	Month string    `json:"month"`
	Pass  MonthPass `json:"pass"`
}

// MatchRecordedResponse is returned by PUT /users/{user_id}/matches/{month}.
type MatchRecordedResponse struct {
	Status  MatchStatus  `json:"status"`
	Refunds RefundReport `json:"refunds"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
