package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_orders_finalized_total",
		Help: "Total number of orders finalized",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_failed_total",
		Help: "Total number of failed finalize attempts",
	}, []string{"reason"})

	OrdersDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_orders_degraded_total",
		Help: "Total number of finalized orders with a degraded post-commit step",
	}, []string{"step"})

	DocumentNumbersAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_document_numbers_allocated_total",
		Help: "Total number of document numbers allocated",
	}, []string{"document_type"})

	ConsumptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_inventory_consumption_latency_seconds",
		Help:    "Latency of inventory consumption including recipe expansion",
		Buckets: prometheus.DefBuckets,
	})

	ConsumptionSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_inventory_consumption_skipped_total",
		Help: "Total number of consumption runs skipped as already applied",
	})

	MovementsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_inventory_movements_total",
		Help: "Total number of inventory movements recorded",
	}, []string{"type", "reason"})

	LoyaltyRulesFiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_loyalty_rules_fired_total",
		Help: "Total number of loyalty rule firings",
	}, []string{"condition_type"})

	LoyaltyPointsAccrued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_loyalty_points_accrued_total",
		Help: "Total loyalty points accrued",
	})

	ShiftsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_shifts_opened_total",
		Help: "Total number of shifts opened",
	})

	ShiftsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_shifts_closed_total",
		Help: "Total number of shifts closed",
	})

	ShiftSalesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_shift_sales_recorded_total",
		Help: "Total number of sales recorded against shifts",
	}, []string{"payment_method"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
