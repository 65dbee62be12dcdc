// Copyright (C) 2026 PolycarpusTack
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// tracer spans every processed action.
var tracer = otel.Tracer("canvasstate.store")

var (
	// actionsTotal counts processed actions by result and type.
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canvasstate_actions_total",
		Help: "Total dispatched actions by result and action type",
	}, []string{"result", "action_type"})

	// actionDuration tracks end-to-end processing latency per type.
	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "canvasstate_action_duration_seconds",
		Help:    "Action processing duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
	}, []string{"action_type"})

	// changesPerAction tracks diff sizes.
	changesPerAction = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canvasstate_changes_per_action",
		Help:    "Number of changes produced per applied action",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	// snapshotBytes tracks published snapshot sizes.
	snapshotBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "canvasstate_snapshot_bytes",
		Help:    "Serialized size of the published state snapshot",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KB to ~16MB
	})

	// queueDepth reports the dispatch queue backlog.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canvasstate_queue_depth",
		Help: "Actions waiting in the dispatch queue",
	})

	// subscriberNotifications counts fan-out sizes.
	subscriberNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canvasstate_subscriber_notifications_total",
		Help: "Total subscriber callbacks invoked",
	})
)

// Result labels for actionsTotal.
const (
	resultApplied   = "applied"
	resultCancelled = "cancelled"
	resultFailed    = "failed"
)
