package walletcfg

import "errors"

const defaultPrometheusListen = "127.0.0.1:8989"

// Prometheus is the set of configuration data that specifies the listening
// address of the Prometheus exporter.
//
//nolint:lll
type Prometheus struct {
	// Enable indicates whether to export metrics.
	Enable bool `long:"enable" description:"enable Prometheus exporting of payout metrics"`

	// Listen is the listening address that we should use to allow the
	// main Prometheus server to scrape our metrics.
	Listen string `long:"listen" description:"the interface we should listen on for Prometheus"`
}

// DefaultPrometheus is the default configuration for the Prometheus metrics
// exporter.
func DefaultPrometheus() *Prometheus {
	return &Prometheus{
		Listen: defaultPrometheusListen,
	}
}

// Enabled returns whether or not Prometheus monitoring is enabled.
func (p *Prometheus) Enabled() bool {
	return p.Enable
}

// Validate checks the exporter options.
func (p *Prometheus) Validate() error {
	if p.Enable && p.Listen == "" {
		return errors.New("prometheus.listen must be set when " +
			"exporting is enabled")
	}

	return nil
}
