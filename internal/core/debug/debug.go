package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// StartUtilities spins off the HTTP services associated with debug mode. The
// pprof handlers are registered on the default mux by the net/http/pprof
// import; the prometheus /metrics endpoint is optionally added alongside them.
func StartUtilities(logger *logrus.Logger, pprofPort int, metricsEnabled bool) {
	if metricsEnabled {
		http.Handle("/metrics", promhttp.Handler())
	}

	listenerAddr := fmt.Sprintf("localhost:%d", pprofPort)
	logger.Infof("starting debug server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting debug server: %s", err)
		}
	}()
}
