package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Engine prometheus collectors of the chat sync engine. A nil *Engine is valid and records nothing.
type Engine struct {
	InboundEvents     *prometheus.CounterVec
	OutboundEvents    *prometheus.CounterVec
	DroppedPayloads   *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	SendRejected      prometheus.Counter
	Connected         prometheus.Gauge
	Conversations     prometheus.Gauge
}

// NewEngine create and register collectors on reg
func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_engine_inbound_events_total",
			Help: "Inbound channel events applied, by event name.",
		}, []string{"event"}),
		OutboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_engine_outbound_events_total",
			Help: "Outbound channel events written, by event name.",
		}, []string{"event"}),
		DroppedPayloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_engine_dropped_payloads_total",
			Help: "Inbound frames dropped, by reason.",
		}, []string{"reason"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_engine_connect_attempts_failed_total",
			Help: "Failed connection attempts.",
		}),
		SendRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_engine_send_rejected_total",
			Help: "Outbound intents refused because the channel was down.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_engine_connected",
			Help: "1 while the channel is connected.",
		}),
		Conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_engine_conversations",
			Help: "Conversations in the last aggregated view.",
		}),
	}
	reg.MustRegister(
		m.InboundEvents,
		m.OutboundEvents,
		m.DroppedPayloads,
		m.ReconnectAttempts,
		m.SendRejected,
		m.Connected,
		m.Conversations,
	)
	return m
}

// Inbound count an applied inbound event
func (m *Engine) Inbound(event string) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(event).Inc()
}

// Outbound count a written outbound event
func (m *Engine) Outbound(event string) {
	if m == nil {
		return
	}
	m.OutboundEvents.WithLabelValues(event).Inc()
}

// Dropped count a dropped inbound frame
func (m *Engine) Dropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedPayloads.WithLabelValues(reason).Inc()
}

// AttemptFailed count a failed connection attempt
func (m *Engine) AttemptFailed() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// Rejected count a refused outbound intent
func (m *Engine) Rejected() {
	if m == nil {
		return
	}
	m.SendRejected.Inc()
}

// SetConnected flip the connected gauge
func (m *Engine) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

// SetConversations record the aggregated conversation count
func (m *Engine) SetConversations(n int) {
	if m == nil {
		return
	}
	m.Conversations.Set(float64(n))
}
