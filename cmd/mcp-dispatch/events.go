// ABOUTME: Event publisher selection for the binary
// ABOUTME: Embedded NATS server, external NATS URL, or discard

package main

import (
	"fmt"
	"log/slog"

	"github.com/2389/mcp-dispatch/internal/config"
	"github.com/2389/mcp-dispatch/internal/events"
)

// setupPublisher returns the configured publisher and a cleanup function
// that flushes and closes whatever was opened.
func setupPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, func(), error) {
	url := cfg.NATSURL
	var embedded *events.EmbeddedServer

	if cfg.Embedded {
		srv, err := events.StartEmbedded("127.0.0.1", cfg.Port)
		if err != nil {
			return nil, nil, fmt.Errorf("starting embedded NATS: %w", err)
		}
		embedded = srv
		url = srv.ClientURL()
		logger.Info("embedded NATS server started", "url", url)
	}

	if url == "" {
		logger.Info("event publishing disabled")
		return &events.NoOpPublisher{}, func() {}, nil
	}

	nc, err := events.ConnectNATS(url)
	if err != nil {
		if embedded != nil {
			embedded.Close()
		}
		return nil, nil, err
	}

	pub := events.NewNATSPublisher(nc, events.NATSPublisherOpts{
		SubjectPrefix: cfg.SubjectPrefix,
		Logger:        logger.With("component", "events"),
	})
	logger.Info("publishing events to NATS", "url", url, "subject_prefix", cfg.SubjectPrefix)

	cleanup := func() {
		if err := pub.Close(); err != nil {
			logger.Warn("closing NATS publisher", "error", err)
		}
		if embedded != nil {
			embedded.Close()
		}
	}
	return pub, cleanup, nil
}
