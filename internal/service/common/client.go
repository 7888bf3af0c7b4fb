//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	releasegrpc "github.com/cha777/pro11-push-update-server/internal/api/grpc/release"
	"github.com/cha777/pro11-push-update-server/internal/config"
	domain "github.com/cha777/pro11-push-update-server/internal/domain/release"
)

// Client wraps the release-info gRPC service with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the release server.
	conn *grpc.ClientConn
	// dialOptions are appended to the default transport options.
	dialOptions []grpc.DialOption

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithDialOptions appends gRPC dial options, e.g. a custom context dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial establishes a gRPC connection to the release server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append(
		[]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		client.dialOptions...,
	)

	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial release server: %w", err)
	}

	client.conn = conn

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// GetLatestVersion retrieves the published version pointer.
func (c *Client) GetLatestVersion(ctx context.Context) (domain.VersionPointer, error) {
	var pointer domain.VersionPointer

	if err := c.invoke(ctx, releasegrpc.GetLatestVersionMethod, &pointer); err != nil {
		return domain.VersionPointer{}, fmt.Errorf("get latest version: %w", err)
	}

	return pointer, nil
}

// GetPreviousReleases retrieves the release ledger.
func (c *Client) GetPreviousReleases(ctx context.Context) (*domain.ReleaseLedger, error) {
	ledger := domain.NewReleaseLedger()

	if err := c.invoke(ctx, releasegrpc.GetPreviousReleasesMethod, ledger); err != nil {
		return nil, fmt.Errorf("get previous releases: %w", err)
	}

	return ledger, nil
}

// invoke calls method and decodes the returned Struct into out.
func (c *Client) invoke(ctx context.Context, method string, out any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, method, new(emptypb.Empty), response); err != nil {
		return err
	}

	data, err := protojson.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	if err = json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
