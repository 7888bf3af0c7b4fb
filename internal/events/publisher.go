package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

// EventDeployed is the type field of a deployment event.
const EventDeployed = "release.deployed"

// Publisher announces deployments.
type Publisher interface {
	PublishDeployed(ctx context.Context, deployed *release.Deployed) error
	Close()
}

// Noop discards every event.
type Noop struct{}

func (Noop) PublishDeployed(context.Context, *release.Deployed) error { return nil }

func (Noop) Close() {}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSPublisher publishes events on a NATS subject.
type NATSPublisher struct {
	// conn is the NATS connection.
	conn conn
	// subject receives the events.
	subject string
	// timeout bounds the flush after each publish.
	timeout time.Duration
}

var (
	errEmptySubject = errors.New("empty subject")
	errNilDeployed  = errors.New("deployment is nil")
)

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(ctx context.Context, url, subject string, timeout time.Duration) (*NATSPublisher, error) {
	ctx = logger.WithName(ctx, "events")

	options := []nats.Option{
		nats.Name("push-update-server"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WarnKV(ctx, "Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.InfoKV(ctx, "Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug(ctx, "NATS connection closed")
		}),
	}

	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return newPublisher(nc, subject, timeout)
}

func newPublisher(c conn, subject string, timeout time.Duration) (*NATSPublisher, error) {
	if subject == "" {
		c.Close()

		return nil, errEmptySubject
	}

	return &NATSPublisher{
		conn:    c,
		subject: subject,
		timeout: timeout,
	}, nil
}

// PublishDeployed sends the deployment event and waits for the server to accept it.
func (p *NATSPublisher) PublishDeployed(ctx context.Context, deployed *release.Deployed) error {
	data, err := Encode(deployed)
	if err != nil {
		return err
	}

	if err = p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	if err = p.conn.FlushTimeout(p.timeout); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}

	logger.DebugKV(ctx, "Deployment event published", "subject", p.subject)

	return nil
}

// Close closes the connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

// Encode renders the deployment event as protojson.
func Encode(deployed *release.Deployed) ([]byte, error) {
	if deployed == nil {
		return nil, errNilDeployed
	}

	event, err := structpb.NewStruct(map[string]any{
		"type":         EventDeployed,
		"deploymentId": deployed.DeploymentID,
		"label":        deployed.Label,
		"versionName":  deployed.VersionName,
		"app":          deployed.App,
		"installer":    deployed.Installer,
		"deployedAt":   deployed.DeployedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("build event: %w", err)
	}

	data, err := protojson.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	return data, nil
}
