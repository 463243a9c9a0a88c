package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_tool_calls_total",
		Help: "MCP tool calls by tool and result",
	}, []string{"tool", "result"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anastrophex_tool_call_duration_seconds",
		Help:    "Time spent handling MCP tool calls",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"tool"})

	resourceReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anastrophex_resource_reads_total",
		Help: "MCP resource reads by URI and result",
	}, []string{"uri", "result"})
)
