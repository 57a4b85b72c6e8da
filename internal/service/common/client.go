//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarmd/internal/api/grpc/admin"
	"github.com/oshokin/alarmd/internal/config"
)

// Client calls the alarmd admin service.
type Client struct {
	// conn is the underlying gRPC connection to the daemon.
	conn *grpc.ClientConn
	// actor is sent with every call for the daemon's audit log.
	actor string
	// dialOptions are appended to the default dial options.
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

// WithActor sets the caller identity sent with every call.
func WithActor(actor string) Option {
	return func(c *Client) {
		c.actor = actor
	}
}

// WithDialOptions appends gRPC dial options, for example a custom dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// errAddressRequired is returned when a required address value is missing.
var errAddressRequired = errors.New("address must be provided")

// Dial prepares a gRPC connection to the daemon.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
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
		return nil, fmt.Errorf("dial alarmd: %w", err)
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

// GetStats returns pool, alarm and lock counters.
func (c *Client) GetStats(ctx context.Context) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, admin.MethodGetStats, new(emptypb.Empty), resp); err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	return resp, nil
}

// ListAlarms returns the pending alarms.
func (c *Client) ListAlarms(ctx context.Context) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, admin.MethodListAlarms, new(emptypb.Empty), resp); err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}

	return resp, nil
}

// ScheduleAlarm schedules an alarm that logs message on the daemon and returns its identity.
func (c *Client) ScheduleAlarm(ctx context.Context, delay time.Duration, message string, deferrable bool) (string, error) {
	req, err := structpb.NewStruct(map[string]any{
		"delay":      delay.String(),
		"message":    message,
		"deferrable": deferrable,
	})
	if err != nil {
		return "", fmt.Errorf("encode schedule request: %w", err)
	}

	resp := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, admin.MethodScheduleAlarm, req, resp); err != nil {
		return "", fmt.Errorf("schedule alarm: %w", err)
	}

	return resp.GetValue(), nil
}

// CancelAlarm cancels a pending alarm and reports whether it was pending.
func (c *Client) CancelAlarm(ctx context.Context, id string) (bool, error) {
	resp := new(wrapperspb.BoolValue)
	if err := c.invoke(ctx, admin.MethodCancelAlarm, wrapperspb.String(id), resp); err != nil {
		return false, fmt.Errorf("cancel alarm: %w", err)
	}

	return resp.GetValue(), nil
}

// GetLockTable returns the held and awaited locks.
func (c *Client) GetLockTable(ctx context.Context) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	if err := c.invoke(ctx, admin.MethodGetLockTable, new(emptypb.Empty), resp); err != nil {
		return nil, fmt.Errorf("get lock table: %w", err)
	}

	return resp, nil
}

// ForceReleaseLock clears a lock and returns the number of failed waiters.
func (c *Client) ForceReleaseLock(ctx context.Context, resource string) (uint32, error) {
	resp := new(wrapperspb.UInt32Value)
	if err := c.invoke(ctx, admin.MethodForceReleaseLock, wrapperspb.String(resource), resp); err != nil {
		return 0, fmt.Errorf("force release lock: %w", err)
	}

	return resp.GetValue(), nil
}

// invoke performs one unary call with the call timeout and actor metadata.
func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if c.actor != "" {
		callCtx = metadata.AppendToOutgoingContext(callCtx, admin.ActorMetadataKey, c.actor)
	}

	return c.conn.Invoke(callCtx, method, req, resp)
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
