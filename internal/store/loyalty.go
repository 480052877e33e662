package store

import (
	"context"
	"database/sql"

	"github.com/ivallejo/coffee-sub000/internal/models"

	"github.com/shopspring/decimal"
)

// GetActiveLoyaltyRules retrieves all active rules.
func (s *Store) GetActiveLoyaltyRules(ctx context.Context) ([]models.LoyaltyRule, error) {
	var rules []models.LoyaltyRule
	err := s.db.SelectContext(ctx, &rules,
		"SELECT * FROM loyalty_rules WHERE is_active = true ORDER BY id")
	return rules, err
}

// InsertRewardGrant persists a grant produced by a fired rule.
func (s *Store) InsertRewardGrant(ctx context.Context, grant *models.RewardGrant) error {
	return s.db.GetContext(ctx, grant, `
		INSERT INTO reward_grants (rule_id, customer_id, order_id, reward_product_id, reward_description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		grant.RuleID, grant.CustomerID, grant.OrderID, grant.RewardProductID, grant.RewardDescription)
}

// AccrueLoyalty adds points and spend to the customer's loyalty state in one
// upsert. Increments happen in SQL so concurrent sales both land.
func (s *Store) AccrueLoyalty(ctx context.Context, customerID, points int64, spend decimal.Decimal) (*models.CustomerLoyaltyState, error) {
	var state models.CustomerLoyaltyState
	err := s.db.GetContext(ctx, &state, `
		INSERT INTO customer_loyalty_state (customer_id, points_balance, lifetime_spend, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (customer_id) DO UPDATE SET
			points_balance = customer_loyalty_state.points_balance + EXCLUDED.points_balance,
			lifetime_spend = customer_loyalty_state.lifetime_spend + EXCLUDED.lifetime_spend,
			updated_at = NOW()
		RETURNING *`,
		customerID, points, spend)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetLoyaltyState returns the customer's loyalty state, zero-valued when the
// customer has never accrued.
func (s *Store) GetLoyaltyState(ctx context.Context, customerID int64) (*models.CustomerLoyaltyState, error) {
	var state models.CustomerLoyaltyState
	err := s.db.GetContext(ctx, &state,
		"SELECT * FROM customer_loyalty_state WHERE customer_id = $1", customerID)
	if err == sql.ErrNoRows {
		return &models.CustomerLoyaltyState{CustomerID: customerID, LifetimeSpend: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
