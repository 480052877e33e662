package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ivallejo/coffee-sub000/internal/models"
	"github.com/ivallejo/coffee-sub000/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LoyaltyStore is the slice of the store the rule engine needs.
type LoyaltyStore interface {
	GetActiveLoyaltyRules(ctx context.Context) ([]models.LoyaltyRule, error)
	GetMonthlySpend(ctx context.Context, customerID int64) (decimal.Decimal, error)
	InsertRewardGrant(ctx context.Context, grant *models.RewardGrant) error
	AccrueLoyalty(ctx context.Context, customerID, points int64, spend decimal.Decimal) (*models.CustomerLoyaltyState, error)
	GetLoyaltyState(ctx context.Context, customerID int64) (*models.CustomerLoyaltyState, error)
}

// RewardEventPublisher publishes granted rewards for the customer UI.
type RewardEventPublisher interface {
	PublishRewardGranted(ctx context.Context, event *models.RewardGrantedEvent) error
}

// LoyaltyEngine evaluates configured rules against completed purchases and
// accrues points. It runs after the payment is accepted; its failures are
// reported, never fatal to checkout.
type LoyaltyEngine struct {
	store      LoyaltyStore
	publisher  RewardEventPublisher
	logger     *zap.Logger
	pointsRate decimal.Decimal
}

// NewLoyaltyEngine creates a new loyalty engine. pointsRate is points
// accrued per currency unit spent, independent of rule-triggered rewards.
func NewLoyaltyEngine(store LoyaltyStore, publisher RewardEventPublisher, pointsRate decimal.Decimal) *LoyaltyEngine {
	return &LoyaltyEngine{
		store:      store,
		publisher:  publisher,
		logger:     util.GetLogger(),
		pointsRate: pointsRate,
	}
}

// EvaluationResult carries every rule that fired plus the updated state.
type EvaluationResult struct {
	Grants        []models.RewardGrant         `json:"grants"`
	PointsAccrued int64                        `json:"points_accrued"`
	State         *models.CustomerLoyaltyState `json:"state,omitempty"`
}

// Evaluate runs all active rules for the completed order. All rules that
// trigger produce grants; there is no precedence or exclusivity between
// them. A nil customerID is an anonymous sale and evaluates to a no-op.
//
// The monthly-spend condition counts the current order: Evaluate is called
// after the order row is committed, so the store sum already includes it.
func (l *LoyaltyEngine) Evaluate(ctx context.Context, customerID *int64, orderID int64, orderTotal decimal.Decimal) (*EvaluationResult, error) {
	ctx, span := util.StartSpan(ctx, "LoyaltyEngine.Evaluate")
	defer span.End()

	if customerID == nil {
		return &EvaluationResult{}, nil
	}

	rules, err := l.store.GetActiveLoyaltyRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty rules: %w", err)
	}

	result := &EvaluationResult{}
	var monthlySpend *decimal.Decimal

	for i := range rules {
		rule := &rules[i]

		fired, err := l.ruleFires(ctx, rule, *customerID, orderTotal, &monthlySpend)
		if err != nil {
			return nil, err
		}
		if !fired {
			continue
		}

		grant := models.RewardGrant{
			RuleID:            rule.ID,
			CustomerID:        *customerID,
			OrderID:           orderID,
			RewardProductID:   rule.RewardProductID,
			RewardDescription: rule.RewardDescription,
		}
		if err := l.store.InsertRewardGrant(ctx, &grant); err != nil {
			return nil, fmt.Errorf("failed to persist reward grant: %w", err)
		}
		result.Grants = append(result.Grants, grant)

		util.LoyaltyRulesFiredTotal.WithLabelValues(rule.ConditionType).Inc()
		l.logger.Info("Loyalty rule fired",
			zap.Int64("rule_id", rule.ID),
			zap.Int64("customer_id", *customerID),
			zap.Int64("order_id", orderID),
			zap.String("reward", rule.RewardDescription))

		l.publishGrant(ctx, &grant)
	}

	// Points accrue on every attributed sale regardless of rule outcomes.
	points := orderTotal.Mul(l.pointsRate).Floor().IntPart()
	state, err := l.store.AccrueLoyalty(ctx, *customerID, points, orderTotal)
	if err != nil {
		return nil, fmt.Errorf("failed to accrue loyalty: %w", err)
	}
	result.PointsAccrued = points
	result.State = state
	util.LoyaltyPointsAccrued.Add(float64(points))

	return result, nil
}

// ruleFires evaluates one rule. Both conditions are strict greater-than: a
// total exactly at the threshold does not trigger.
func (l *LoyaltyEngine) ruleFires(ctx context.Context, rule *models.LoyaltyRule, customerID int64, orderTotal decimal.Decimal, monthlySpend **decimal.Decimal) (bool, error) {
	switch rule.ConditionType {
	case models.ConditionSingleTransactionAmount:
		return orderTotal.GreaterThan(rule.Threshold), nil

	case models.ConditionRollingMonthlySpend:
		if *monthlySpend == nil {
			spend, err := l.store.GetMonthlySpend(ctx, customerID)
			if err != nil {
				return false, fmt.Errorf("failed to load monthly spend: %w", err)
			}
			*monthlySpend = &spend
		}
		return (*monthlySpend).GreaterThan(rule.Threshold), nil

	default:
		l.logger.Warn("Unknown loyalty condition type, skipping rule",
			zap.Int64("rule_id", rule.ID),
			zap.String("condition_type", rule.ConditionType))
		return false, nil
	}
}

func (l *LoyaltyEngine) publishGrant(ctx context.Context, grant *models.RewardGrant) {
	if l.publisher == nil {
		return
	}
	event := &models.RewardGrantedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeRewardGranted,
			Timestamp: time.Now(),
		},
		CustomerID:        grant.CustomerID,
		OrderID:           grant.OrderID,
		RuleID:            grant.RuleID,
		RewardDescription: grant.RewardDescription,
		RewardProductID:   grant.RewardProductID,
	}
	if err := l.publisher.PublishRewardGranted(ctx, event); err != nil {
		l.logger.Warn("Failed to publish RewardGranted event", zap.Error(err))
	}
}

// GetState returns the customer's loyalty state for customer-facing UI.
func (l *LoyaltyEngine) GetState(ctx context.Context, customerID int64) (*models.CustomerLoyaltyState, error) {
	return l.store.GetLoyaltyState(ctx, customerID)
}
