// Package metrics holds Skiff's prometheus instrumentation.
//
// A nil *Set is valid and records nothing, so library code can take metrics
// as an optional dependency without nil checks at every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles all collectors of the sync engine.
type Set struct {
	feedEvents     *prometheus.CounterVec
	feedReconnects prometheus.Counter
	filterDrops    prometheus.Counter
	historyFetches *prometheus.CounterVec
	sends          *prometheus.CounterVec
	storeSize      *prometheus.GaugeVec
}

// New registers the engine collectors on reg and returns the Set.
func New(reg prometheus.Registerer) *Set {
	f := promauto.With(reg)
	return &Set{
		feedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "feed",
			Name:      "events_total",
			Help:      "Change feed events received after the client-side filter, by action.",
		}, []string{"action"}),
		feedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Feed reconnect attempts scheduled after a transport failure.",
		}),
		filterDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "feed",
			Name:      "filter_drops_total",
			Help:      "Events dropped because they did not match the session's conversation key.",
		}),
		historyFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "history",
			Name:      "fetches_total",
			Help:      "History page fetches, by result.",
		}, []string{"result"}),
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skiff",
			Subsystem: "send",
			Name:      "requests_total",
			Help:      "Outbound send requests, by result.",
		}, []string{"result"}),
		storeSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "skiff",
			Subsystem: "store",
			Name:      "messages",
			Help:      "Messages currently held per open conversation.",
		}, []string{"conversation_id"}),
	}
}

// FeedEvent records one accepted feed event.
func (s *Set) FeedEvent(action string) {
	if s == nil {
		return
	}
	s.feedEvents.WithLabelValues(action).Inc()
}

// FeedReconnect records one scheduled reconnect.
func (s *Set) FeedReconnect() {
	if s == nil {
		return
	}
	s.feedReconnects.Inc()
}

// FilterDrop records one cross-conversation event drop.
func (s *Set) FilterDrop() {
	if s == nil {
		return
	}
	s.filterDrops.Inc()
}

// HistoryFetch records one history fetch outcome ("ok" or "error").
func (s *Set) HistoryFetch(result string) {
	if s == nil {
		return
	}
	s.historyFetches.WithLabelValues(result).Inc()
}

// Send records one send outcome ("ok" or "error").
func (s *Set) Send(result string) {
	if s == nil {
		return
	}
	s.sends.WithLabelValues(result).Inc()
}

// StoreSize sets the current message count for a conversation.
func (s *Set) StoreSize(conversationID string, n int) {
	if s == nil {
		return
	}
	s.storeSize.WithLabelValues(conversationID).Set(float64(n))
}

// DropStore removes the gauge series of a closed conversation.
func (s *Set) DropStore(conversationID string) {
	if s == nil {
		return
	}
	s.storeSize.DeleteLabelValues(conversationID)
}
