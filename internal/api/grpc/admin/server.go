package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarmd/internal/alarm"
	"github.com/oshokin/alarmd/internal/coordinator"
	"github.com/oshokin/alarmd/internal/lock"
	"github.com/oshokin/alarmd/internal/logger"
)

// Service abstracts the daemon operations the transport layer depends on.
type Service interface {
	Stats() coordinator.Stats
	PendingAlarms() []alarm.Info
	ScheduleNotice(ctx context.Context, delay time.Duration, message string, deferrable bool) (string, error)
	CancelByID(id string) bool
	LockTable() []lock.Info
	ForceRelease(resource lock.ResourceID) int
}

// Server implements AdminServiceServer.
type Server struct {
	// service provides the daemon operations.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

var _ AdminServiceServer = (*Server)(nil)

// GetStats returns pool, alarm and lock counters.
func (s *Server) GetStats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	stats := s.service.Stats()

	return newStruct(map[string]any{
		"pool": map[string]any{
			"name":     stats.Pool.Name,
			"state":    stats.Pool.State.String(),
			"min_size": stats.Pool.MinSize,
			"max_size": stats.Pool.MaxSize,
			"workers":  stats.Pool.Workers,
			"active":   stats.Pool.Active,
			"queued":   stats.Pool.Queued,
		},
		"alarms": map[string]any{
			"pending": stats.PendingAlarms,
		},
		"locks": map[string]any{
			"resources": stats.LockedResources,
			"waiting":   stats.WaitingLocks,
		},
	})
}

// ListAlarms returns the pending alarms by fire time.
func (s *Server) ListAlarms(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	pending := s.service.PendingAlarms()

	alarms := make([]any, 0, len(pending))
	for _, a := range pending {
		alarms = append(alarms, map[string]any{
			"id":         a.ID,
			"fire_at":    a.FireAt.UTC().Format(time.RFC3339Nano),
			"deferrable": a.Deferrable,
		})
	}

	return newStruct(map[string]any{"alarms": alarms})
}

// ScheduleAlarm schedules an alarm that logs a message when it fires.
// The request fields are delay (a Go duration string), message and deferrable.
func (s *Server) ScheduleAlarm(ctx context.Context, req *structpb.Struct) (*wrapperspb.StringValue, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	fields := req.GetFields()

	delay, err := time.ParseDuration(fields["delay"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid delay: %v", err)
	}

	message := fields["message"].GetStringValue()
	deferrable := fields["deferrable"].GetBoolValue()

	id, err := s.service.ScheduleNotice(ctx, delay, message, deferrable)

	switch {
	case err == nil:
	case errors.Is(err, alarm.ErrNegativeDelay):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, alarm.ErrShutdown):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	default:
		return nil, status.Error(codes.Internal, "unable to schedule alarm")
	}

	logger.InfoKV(ctx, "Alarm scheduled by admin", "id", id, "delay", delay, "deferrable", deferrable, "actor", actorOf(ctx))

	return wrapperspb.String(id), nil
}

// CancelAlarm cancels a pending alarm by identity.
func (s *Server) CancelAlarm(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "alarm id is required")
	}

	cancelled := s.service.CancelByID(id)

	logger.InfoKV(ctx, "Alarm cancel requested", "id", id, "cancelled", cancelled, "actor", actorOf(ctx))

	return wrapperspb.Bool(cancelled), nil
}

// GetLockTable returns the held and awaited locks.
func (s *Server) GetLockTable(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	table := s.service.LockTable()

	locks := make([]any, 0, len(table))
	for _, info := range table {
		holders := make([]any, 0, len(info.Holders))
		for _, h := range info.Holders {
			holders = append(holders, map[string]any{
				"owner": string(h.Owner),
				"mode":  h.Mode.String(),
				"count": h.Count,
			})
		}

		waiters := make([]any, 0, len(info.Waiters))
		for _, w := range info.Waiters {
			waiters = append(waiters, map[string]any{
				"owner":   string(w.Owner),
				"mode":    w.Mode.String(),
				"upgrade": w.Upgrade,
			})
		}

		locks = append(locks, map[string]any{
			"resource": string(info.Resource),
			"holders":  holders,
			"waiters":  waiters,
		})
	}

	return newStruct(map[string]any{"locks": locks})
}

// ForceReleaseLock clears a lock and fails its waiters.
func (s *Server) ForceReleaseLock(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error) {
	resource := strings.TrimSpace(req.GetValue())
	if resource == "" {
		return nil, status.Error(codes.InvalidArgument, "resource is required")
	}

	interrupted := s.service.ForceRelease(lock.ResourceID(resource))

	logger.WarnKV(ctx, "Lock force-released by admin",
		"resource", resource,
		"interrupted", interrupted,
		"actor", actorOf(ctx),
	)

	//nolint:gosec // The count of interrupted waiters is never negative.
	return wrapperspb.UInt32(uint32(interrupted)), nil
}

// newStruct converts a map to a Struct, reporting conversion failures as Internal.
func newStruct(fields map[string]any) (*structpb.Struct, error) {
	result, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}

	return result, nil
}

// actorOf returns the caller identity sent in metadata, if any.
func actorOf(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "unknown"
	}

	if values := md.Get(ActorMetadataKey); len(values) > 0 && values[0] != "" {
		return values[0]
	}

	return "unknown"
}
