package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var prometheusWSConnTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ws_conn_total",
	Help: "Total number of opened websocket connections",
})

var prometheusWSConnActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "ws_conn_active",
	Help: "Number of active websocket connections",
})

var prometheusWSConnErrTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ws_conn_err_total",
	Help: "Total number of errored out websocket connections",
})

var prometheusWSConnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "ws_conn_duration_seconds",
	Help: "Duration of websocket connections",
})

var prometheusWebRTCConnTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "webrtc_conn_total",
	Help: "Total number of opened webrtc connections",
})

var prometheusWebRTCConnActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "webrtc_conn_active",
	Help: "Number of active webrtc connections",
})

var prometheusWSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ws_messages_total",
	Help: "Total number of received websocket messages",
})

var prometheusExperimentsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "experiments_active",
	Help: "Number of experiments with at least one connected user",
})

var prometheusSessionViewsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "session_views_total",
	Help: "Total number of session list requests",
})
