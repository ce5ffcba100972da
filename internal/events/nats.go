// ABOUTME: NATS-backed event publisher and optional in-process NATS server
// ABOUTME: Events go to <prefix>.<type> as JSON

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is used when NATSPublisherOpts leaves it empty.
const DefaultSubjectPrefix = "mcp.events"

// NATSPublisherOpts configures NATSPublisher. Zero values use defaults.
type NATSPublisherOpts struct {
	SubjectPrefix string
	Logger        *slog.Logger
}

// NATSPublisher publishes events to NATS subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher on an existing connection.
func NewNATSPublisher(nc *nats.Conn, opts NATSPublisherOpts) *NATSPublisher {
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logger: logger}
}

// ConnectNATS dials url with the client name used by the service.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("mcp-dispatch"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

// Publish encodes event as JSON and publishes it.
func (p *NATSPublisher) Publish(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	subject := p.Subject(event.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Error("failed to publish event", "subject", subject, "error", err)
		return err
	}
	p.logger.Debug("published event", "subject", subject)
	return nil
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.nc.Flush(); err != nil {
		p.nc.Close()
		return fmt.Errorf("flush nats: %w", err)
	}
	p.nc.Close()
	return nil
}

// EmbeddedServer runs a NATS server inside the process.
type EmbeddedServer struct {
	server *natsserver.Server
}

// StartEmbedded starts an in-process NATS server on host:port.
// Port -1 picks a random free port.
func StartEmbedded(host string, port int) (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the URL clients should connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Close shuts the server down and waits for it to exit.
func (s *EmbeddedServer) Close() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
