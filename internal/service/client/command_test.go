package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarmd/internal/alarm"
	"github.com/oshokin/alarmd/internal/api/grpc/admin"
	"github.com/oshokin/alarmd/internal/coordinator"
	"github.com/oshokin/alarmd/internal/lock"
	"github.com/oshokin/alarmd/internal/service/common"
)

// fixedService answers the admin service with canned data.
type fixedService struct{}

func (fixedService) Stats() coordinator.Stats { return coordinator.Stats{LockedResources: 3} }

func (fixedService) PendingAlarms() []alarm.Info {
	return []alarm.Info{{ID: "a1", FireAt: time.Unix(0, 0), Deferrable: true}}
}

func (fixedService) ScheduleNotice(context.Context, time.Duration, string, bool) (string, error) {
	return "a2", nil
}

func (fixedService) CancelByID(id string) bool { return id == "a1" }

func (fixedService) LockTable() []lock.Info { return nil }

func (fixedService) ForceRelease(lock.ResourceID) int { return 1 }

// dialFixed connects a client to an in-memory admin server.
func dialFixed(t *testing.T) *common.Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	admin.RegisterAdminServiceServer(server, admin.NewServer(fixedService{}))

	go func() {
		_ = server.Serve(lis)
	}()

	t.Cleanup(server.Stop)

	c, err := common.Dial(context.Background(), "passthrough:///bufnet",
		common.WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
	})

	return c
}

// TestActions checks the output of every alarmctl action.
func TestActions(t *testing.T) {
	t.Parallel()

	c := dialFixed(t)

	cases := []struct {
		name     string
		action   Action
		contains string
	}{
		{name: "stats", action: Stats(), contains: `"resources"`},
		{name: "alarms", action: ListAlarms(), contains: `"a1"`},
		{name: "schedule", action: Schedule(time.Minute, "hello", false), contains: "a2\n"},
		{name: "cancel", action: Cancel("a1"), contains: "a1: cancelled\n"},
		{name: "cancel unknown", action: Cancel("zz"), contains: "zz: not pending\n"},
		{name: "locks", action: Locks(), contains: `"locks"`},
		{name: "release", action: Release("ledger"), contains: "ledger: released, 1 waiters interrupted\n"},
	}

	for _, tc := range cases {
		var out bytes.Buffer

		require.NoError(t, tc.action(context.Background(), c, &out), tc.name)
		require.Contains(t, out.String(), tc.contains, tc.name)
	}
}

// TestRelease_RejectsEmptyResource surfaces the server-side validation error.
func TestRelease_RejectsEmptyResource(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	require.Error(t, Release(" ")(context.Background(), dialFixed(t), &out))
	require.Empty(t, out.String())
}

// TestPrintMessage writes indented JSON terminated by a newline.
func TestPrintMessage(t *testing.T) {
	t.Parallel()

	msg, err := structpb.NewStruct(map[string]any{"state": "RUNNING"})
	require.NoError(t, err)

	var out bytes.Buffer

	require.NoError(t, printMessage(&out, msg))

	var decoded map[string]any

	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Equal(t, map[string]any{"state": "RUNNING"}, decoded)
	require.Equal(t, byte('\n'), out.Bytes()[out.Len()-1])
}

// TestRun_InvalidConfig fails before dialing when the settings are broken.
func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool: [broken"), 0o600))

	called := false
	err := Run(context.Background(), &Options{ConfigPath: path}, func(context.Context, *common.Client, io.Writer) error {
		called = true

		return nil
	})

	require.Error(t, err)
	require.False(t, called)
}
