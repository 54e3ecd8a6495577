package monitoring

import (
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/lightningnetwork/payoutd/walletcfg"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var started sync.Once

// ExportPrometheusMetrics launches the Prometheus exporter on the configured
// address. It returns once the listener is bound; the server runs until the
// listener is closed. Only the first call has an effect.
func ExportPrometheusMetrics(cfg *walletcfg.Prometheus) (net.Listener, error) {
	var (
		lis net.Listener
		err = errors.New("prometheus exporter already started")
	)

	started.Do(func() {
		lis, err = net.Listen("tcp", cfg.Listen)
		if err != nil {
			return
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			lis.Addr())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		go func() {
			err := http.Serve(lis, mux)
			if err != nil && !errors.Is(err, net.ErrClosed) {
				log.Errorf("Prometheus exporter stopped: %v",
					err)
			}
		}()
	})

	return lis, err
}
