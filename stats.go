package main

import (
	"fmt"

	"github.com/DataDog/datadog-go/statsd"

	log "github.com/sirupsen/logrus"
)

// loadStatsd builds a buffered statsd client from the configuration,
// or returns nil when statsd is left disabled.
func loadStatsd(conf configuration) (*statsd.Client, error) {
	if conf.Statsd.Addr == "" {
		log.Infof("Statsd left disabled as no `statsd.addr` was provided in config")
		return nil, nil
	}
	buflen := conf.Statsd.Buflen
	if buflen == 0 {
		buflen = 1
	}
	statsdClient, err := statsd.NewBuffered(conf.Statsd.Addr, buflen)
	if err != nil {
		return nil, fmt.Errorf("error constructing statsdClient: %w", err)
	}
	statsdClient.Namespace = conf.Statsd.Namespace
	log.Infof("Statsd enabled at %s with namespace %s", conf.Statsd.Addr, conf.Statsd.Namespace)
	return statsdClient, nil
}
