package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wyydra/medsignal/internal/core/domain"
	"github.com/Wyydra/medsignal/internal/core/port"
)

const namespace = "medsignal"

// Recorder implements port.Metrics on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	rooms       prometheus.Gauge
	joins       prometheus.Counter
	relayed     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

func NewRecorder() (*Recorder, error) {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open signaling connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Successful room joins.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_total",
			Help:      "Signals forwarded to their target.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Frames dropped without delivery.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		r.connections,
		r.rooms,
		r.joins,
		r.relayed,
		r.dropped,
	} {
		if err := r.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ParticipantConnected()    { r.connections.Inc() }
func (r *Recorder) ParticipantDisconnected() { r.connections.Dec() }
func (r *Recorder) RoomJoined()              { r.joins.Inc() }
func (r *Recorder) RoomsActive(n int)        { r.rooms.Set(float64(n)) }

func (r *Recorder) Relayed(kind domain.SignalKind) {
	r.relayed.WithLabelValues(string(kind)).Inc()
}

func (r *Recorder) Dropped(reason port.DropReason) {
	r.dropped.WithLabelValues(string(reason)).Inc()
}
