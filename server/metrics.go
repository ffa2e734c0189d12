package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockagent_requests_total",
		Help: "Inbound API requests by provider shape and status.",
	}, []string{"provider", "status"})

	turnsServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockagent_turns_served_total",
		Help: "Scenario response groups served, by provider shape.",
	}, []string{"provider"})

	validationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockagent_validation_failures_total",
		Help: "Tool validation drift events by profile.",
	}, []string{"profile"})

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mockagent_sessions",
		Help: "Live sessions in the registry.",
	})

	scenarioReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mockagent_scenario_reloads_total",
		Help: "Successful scenario hot reloads.",
	})
)
