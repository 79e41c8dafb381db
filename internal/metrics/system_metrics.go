package metrics

import (
	"sync"
	"time"

	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SystemMetrics интерфейс для системных метрик процесса
type SystemMetrics interface {
	StartRecording(interval time.Duration)
	Stop()
}

type systemMetrics struct {
	log       *logger.Logger
	startedAt time.Time
	uptime    prometheus.Gauge
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewSystemMetrics регистрирует стандартные коллекторы Go и процесса
// и gauge времени работы сервиса.
func NewSystemMetrics(registry *prometheus.Registry, log *logger.Logger) SystemMetrics {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	uptime := promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "billing_uptime_seconds",
			Help: "Seconds since the billing service started",
		},
	)

	return &systemMetrics{
		log:       log,
		startedAt: time.Now(),
		uptime:    uptime,
		stopCh:    make(chan struct{}),
	}
}

// StartRecording обновляет uptime с заданным интервалом до вызова Stop
func (m *systemMetrics) StartRecording(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.uptime.Set(time.Since(m.startedAt).Seconds())
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Infow("System metrics recording started", "interval", interval.String())
}

// Stop останавливает запись метрик
func (m *systemMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.log.Infow("System metrics recording stopped")
	})
}
