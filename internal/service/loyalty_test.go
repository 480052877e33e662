package service

import (
	"context"
	"testing"

	"github.com/ivallejo/coffee-sub000/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func singleAmountRule(id int64, threshold string) models.LoyaltyRule {
	return models.LoyaltyRule{
		ID:                id,
		ConditionType:     models.ConditionSingleTransactionAmount,
		Threshold:         dec(threshold),
		RewardType:        models.RewardTypeFreeProduct,
		RewardDescription: "free coffee",
		IsActive:          true,
	}
}

func TestEvaluateAnonymousSaleIsNoOp(t *testing.T) {
	fs := newFakeStore()
	fs.rules = []models.LoyaltyRule{singleAmountRule(1, "10")}

	engine := NewLoyaltyEngine(fs, nil, dec("1"))

	result, err := engine.Evaluate(context.Background(), nil, 1, dec("100"))
	require.NoError(t, err)
	assert.Empty(t, result.Grants)
	assert.Zero(t, result.PointsAccrued)
	assert.Empty(t, fs.grants)
}

// "Free coffee over 50": exactly 50.00 does not trigger, 50.01 does.
func TestSingleTransactionThresholdIsStrict(t *testing.T) {
	fs := newFakeStore()
	fs.rules = []models.LoyaltyRule{singleAmountRule(1, "50")}

	engine := NewLoyaltyEngine(fs, nil, dec("1"))
	customer := ptr(int64(9))

	result, err := engine.Evaluate(context.Background(), customer, 1, dec("50.00"))
	require.NoError(t, err)
	assert.Empty(t, result.Grants)

	result, err = engine.Evaluate(context.Background(), customer, 2, dec("50.01"))
	require.NoError(t, err)
	require.Len(t, result.Grants, 1)
	assert.Equal(t, int64(1), result.Grants[0].RuleID)
	assert.Equal(t, "free coffee", result.Grants[0].RewardDescription)
}

func TestRollingMonthlySpendThresholdIsStrict(t *testing.T) {
	fs := newFakeStore()
	fs.rules = []models.LoyaltyRule{{
		ID:                2,
		ConditionType:     models.ConditionRollingMonthlySpend,
		Threshold:         dec("200"),
		RewardType:        models.RewardTypeCustom,
		RewardDescription: "10% off next visit",
		IsActive:          true,
	}}

	engine := NewLoyaltyEngine(fs, nil, dec("1"))
	customer := ptr(int64(9))

	// The monthly sum already includes the current order at evaluation time.
	fs.monthlySpend[9] = dec("200.00")
	result, err := engine.Evaluate(context.Background(), customer, 1, dec("30"))
	require.NoError(t, err)
	assert.Empty(t, result.Grants)

	fs.monthlySpend[9] = dec("200.01")
	result, err = engine.Evaluate(context.Background(), customer, 2, dec("30"))
	require.NoError(t, err)
	require.Len(t, result.Grants, 1)
	assert.Equal(t, int64(2), result.Grants[0].RuleID)
}

// Multiple rules may fire on the same order; all grants are surfaced.
func TestMultipleRulesFire(t *testing.T) {
	fs := newFakeStore()
	fs.rules = []models.LoyaltyRule{
		singleAmountRule(1, "50"),
		singleAmountRule(2, "100"),
		{
			ID:                3,
			ConditionType:     models.ConditionRollingMonthlySpend,
			Threshold:         dec("500"),
			RewardType:        models.RewardTypeCustom,
			RewardDescription: "vip",
			IsActive:          true,
		},
	}
	fs.monthlySpend[9] = dec("600")

	engine := NewLoyaltyEngine(fs, nil, dec("1"))

	result, err := engine.Evaluate(context.Background(), ptr(int64(9)), 1, dec("120"))
	require.NoError(t, err)
	assert.Len(t, result.Grants, 3)
}

func TestInactiveRulesAreSkipped(t *testing.T) {
	fs := newFakeStore()
	rule := singleAmountRule(1, "10")
	rule.IsActive = false
	fs.rules = []models.LoyaltyRule{rule}

	engine := NewLoyaltyEngine(fs, nil, dec("1"))

	result, err := engine.Evaluate(context.Background(), ptr(int64(9)), 1, dec("100"))
	require.NoError(t, err)
	assert.Empty(t, result.Grants)
}

// Points accrue independently of rule outcomes, floored at the rate.
func TestPointsAccrual(t *testing.T) {
	fs := newFakeStore()
	engine := NewLoyaltyEngine(fs, nil, dec("1"))
	customer := ptr(int64(9))

	result, err := engine.Evaluate(context.Background(), customer, 1, dec("25.50"))
	require.NoError(t, err)
	assert.Equal(t, int64(25), result.PointsAccrued)
	assert.Equal(t, int64(25), result.State.PointsBalance)
	assert.True(t, result.State.LifetimeSpend.Equal(dec("25.50")))

	result, err = engine.Evaluate(context.Background(), customer, 2, dec("14.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(14), result.PointsAccrued)
	assert.Equal(t, int64(39), result.State.PointsBalance)
	assert.True(t, result.State.LifetimeSpend.Equal(dec("39.50")))
}

func TestPointsRateHalf(t *testing.T) {
	fs := newFakeStore()
	engine := NewLoyaltyEngine(fs, nil, dec("0.5"))

	result, err := engine.Evaluate(context.Background(), ptr(int64(9)), 1, dec("25"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), result.PointsAccrued)
}
