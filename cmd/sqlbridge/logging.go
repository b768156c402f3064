package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/tomyedwab/sqlbridge/config"
)

// initLog configures the logrus standard logger. Values were validated when
// the configuration was loaded.
func initLog(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}
