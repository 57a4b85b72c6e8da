//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/oshokin/alarmd/internal/alarm"
	"github.com/oshokin/alarmd/internal/api/grpc/admin"
	"github.com/oshokin/alarmd/internal/coordinator"
	"github.com/oshokin/alarmd/internal/lock"
)

// stubService answers the admin service with fixed data.
type stubService struct{}

// Stats reports one pending alarm.
func (stubService) Stats() coordinator.Stats { return coordinator.Stats{PendingAlarms: 1} }

// PendingAlarms is empty.
func (stubService) PendingAlarms() []alarm.Info { return nil }

// ScheduleNotice echoes the message as the identity.
func (stubService) ScheduleNotice(_ context.Context, _ time.Duration, message string, _ bool) (string, error) {
	return "id-" + message, nil
}

// CancelByID knows only alarm "known".
func (stubService) CancelByID(id string) bool { return id == "known" }

// LockTable is empty.
func (stubService) LockTable() []lock.Info { return nil }

// ForceRelease interrupts two waiters.
func (stubService) ForceRelease(lock.ResourceID) int { return 2 }

// startAdmin serves the admin service over an in-memory listener and
// records the actor metadata of every call.
func startAdmin(t *testing.T) (*bufconn.Listener, func() []string) {
	t.Helper()

	var (
		mu     sync.Mutex
		actors []string
	)

	record := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		mu.Lock()
		actors = append(actors, md.Get(admin.ActorMetadataKey)...)
		mu.Unlock()

		return handler(ctx, req)
	}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(record))
	admin.RegisterAdminServiceServer(server, admin.NewServer(stubService{}))

	go func() {
		_ = server.Serve(lis)
	}()

	t.Cleanup(server.Stop)

	return lis, func() []string {
		mu.Lock()
		defer mu.Unlock()

		return append([]string(nil), actors...)
	}
}

// TestDial_ValidatesAddress verifies that Dial rejects empty addresses.
func TestDial_ValidatesAddress(t *testing.T) {
	t.Parallel()

	c, err := Dial(context.Background(), "")
	require.Error(t, err)
	require.Nil(t, c)
}

// TestClient_callContext checks timeout vs cancel-only behavior of callContext.
func TestClient_callContext(t *testing.T) {
	t.Parallel()

	c := &Client{
		callTimeout: 0,
	}

	ctx, cancel := c.callContext(context.Background())
	cancel()

	require.NotNil(t, ctx)

	c.callTimeout = 10 * time.Millisecond

	ctx, cancel = c.callContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	require.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 30*time.Millisecond)
}

// TestClient_Calls exercises every admin call and the actor metadata.
func TestClient_Calls(t *testing.T) {
	t.Parallel()

	lis, actors := startAdmin(t)

	c, err := Dial(context.Background(), "passthrough:///bufnet",
		WithActor("ops@box"),
		WithCallTimeout(5*time.Second),
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
	)
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	ctx := context.Background()

	stats, err := c.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"pending": float64(1)}, stats.AsMap()["alarms"])

	alarms, err := c.ListAlarms(ctx)
	require.NoError(t, err)
	require.Empty(t, alarms.AsMap()["alarms"])

	id, err := c.ScheduleAlarm(ctx, time.Minute, "hello", true)
	require.NoError(t, err)
	require.Equal(t, "id-hello", id)

	cancelled, err := c.CancelAlarm(ctx, "known")
	require.NoError(t, err)
	require.True(t, cancelled)

	cancelled, err = c.CancelAlarm(ctx, "unknown")
	require.NoError(t, err)
	require.False(t, cancelled)

	table, err := c.GetLockTable(ctx)
	require.NoError(t, err)
	require.Empty(t, table.AsMap()["locks"])

	interrupted, err := c.ForceReleaseLock(ctx, "ledger")
	require.NoError(t, err)
	require.Equal(t, uint32(2), interrupted)

	_, err = c.ForceReleaseLock(ctx, "")
	require.Error(t, err)

	recorded := actors()
	require.Len(t, recorded, 8)

	for _, actor := range recorded {
		require.Equal(t, "ops@box", actor)
	}
}

// TestClient_Close tolerates a nil client.
func TestClient_Close(t *testing.T) {
	t.Parallel()

	var c *Client

	require.NoError(t, c.Close())
}
