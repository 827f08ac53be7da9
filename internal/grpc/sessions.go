package grpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"psychometric/sessions/internal/jobs"
	"psychometric/sessions/internal/reconcile"
	"psychometric/sessions/internal/resolver"
	"psychometric/sessions/internal/session"
)

const ServiceName = "psychometric.sessions.v1.SessionService"

type Resolver interface {
	EvaluateAccess(ctx context.Context, sessionID string, now time.Time) (session.AccessResult, error)
	ResolveByCode(ctx context.Context, code string, now time.Time) (resolver.Resolution, error)
}

type Reconciler interface {
	Trigger(ctx context.Context) (reconcile.Report, error)
	TriggerAt(ctx context.Context, at time.Time) (reconcile.Report, error)
}

// SessionService is the server side of psychometric.sessions.v1.SessionService.
type SessionService interface {
	Reconcile(ctx context.Context, at *timestamppb.Timestamp) (*structpb.Struct, error)
	EvaluateAccess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ResolveByCode(ctx context.Context, code *wrapperspb.StringValue) (*structpb.Struct, error)
}

var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reconcile", Handler: reconcileHandler},
		{MethodName: "EvaluateAccess", Handler: evaluateAccessHandler},
		{MethodName: "ResolveByCode", Handler: resolveByCodeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "psychometric/sessions/v1/sessions.proto",
}

// Register exposes the session service and a health service on server.
func Register(server *grpc.Server, svc SessionService) *health.Server {
	server.RegisterService(&SessionServiceDesc, svc)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return healthServer
}

type SessionServer struct {
	resolver   Resolver
	reconciler Reconciler
	now        func() time.Time
}

func NewSessionServer(sessions Resolver, reconciler Reconciler) *SessionServer {
	return &SessionServer{resolver: sessions, reconciler: reconciler, now: time.Now}
}

// Reconcile runs a pass. A zero timestamp means the server clock.
func (s *SessionServer) Reconcile(ctx context.Context, at *timestamppb.Timestamp) (*structpb.Struct, error) {
	var (
		report reconcile.Report
		err    error
	)
	if at.GetSeconds() == 0 && at.GetNanos() == 0 {
		report, err = s.reconciler.Trigger(ctx)
	} else {
		if err := at.CheckValid(); err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid timestamp")
		}
		report, err = s.reconciler.TriggerAt(ctx, at.AsTime())
	}
	switch {
	case errors.Is(err, jobs.ErrRunInProgress):
		return nil, status.Error(codes.Aborted, "reconcile in progress")
	case err != nil:
		return nil, status.Error(codes.Unavailable, "reconcile failed")
	}
	return reportStruct(report)
}

func (s *SessionServer) EvaluateAccess(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	sessionID := fields["session_id"].GetStringValue()
	if sessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id required")
	}
	now := s.now().UTC()
	if raw := fields["now"].GetStringValue(); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid now")
		}
		now = parsed.UTC()
	}
	result, err := s.resolver.EvaluateAccess(ctx, sessionID, now)
	if err != nil {
		return nil, lookupStatus(err)
	}
	return structpb.NewStruct(accessFields(result))
}

func (s *SessionServer) ResolveByCode(ctx context.Context, code *wrapperspb.StringValue) (*structpb.Struct, error) {
	if code.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "code required")
	}
	res, err := s.resolver.ResolveByCode(ctx, code.GetValue(), s.now().UTC())
	if err != nil {
		return nil, lookupStatus(err)
	}
	modules := make([]interface{}, 0, len(res.Modules))
	for _, m := range res.Modules {
		modules = append(modules, map[string]interface{}{
			"test_id":            m.TestID,
			"sequence":           m.Sequence,
			"is_required":        m.IsRequired,
			"weight":             m.Weight,
			"name":               m.Name,
			"category":           m.Category,
			"module_type":        m.ModuleType,
			"time_limit_minutes": m.TimeLimitMinutes,
			"icon":               m.Icon,
			"color":              m.Color,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"session": map[string]interface{}{
			"id":               res.Session.ID,
			"code":             res.Session.Code,
			"status":           string(res.Session.Status),
			"start_time":       res.Session.StartTime.UTC().Format(time.RFC3339),
			"end_time":         res.Session.EndTime.UTC().Format(time.RFC3339),
			"allow_late_entry": res.Session.AllowLateEntry,
			"auto_expire":      res.Session.AutoExpire,
		},
		"modules": modules,
		"access":  accessFields(res.Access),
	})
}

func accessFields(result session.AccessResult) map[string]interface{} {
	return map[string]interface{}{
		"is_active":              result.IsActive,
		"is_expired":             result.IsExpired,
		"time_remaining_minutes": result.TimeRemainingMinutes,
		"starts_in_minutes":      result.StartsInMinutes,
		"accessible":             result.Accessible,
		"message":                result.Message,
		"response_code":          result.ResponseCode,
		"outcome":                string(result.Outcome),
	}
}

func reportStruct(report reconcile.Report) (*structpb.Struct, error) {
	errs := make([]interface{}, 0, len(report.Errors))
	for _, item := range report.Errors {
		errs = append(errs, map[string]interface{}{
			"session_id": item.SessionID,
			"from":       string(item.From),
			"error":      item.Message,
		})
	}
	return structpb.NewStruct(map[string]interface{}{
		"now":         report.Now.UTC().Format(time.RFC3339Nano),
		"scanned":     report.Scanned,
		"promoted":    report.Promoted,
		"completed":   report.Completed,
		"expired":     report.Expired,
		"skipped":     report.Skipped,
		"errors":      errs,
		"duration_ms": report.Duration.Milliseconds(),
	})
}

func lookupStatus(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return status.Error(codes.NotFound, "session not found")
	case errors.Is(err, session.ErrTransientStore):
		return status.Error(codes.Unavailable, "session store unavailable")
	default:
		return status.Error(codes.Internal, "session lookup failed")
	}
}

func reconcileHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(timestamppb.Timestamp)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionService).Reconcile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Reconcile"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionService).Reconcile(ctx, req.(*timestamppb.Timestamp))
	}
	return interceptor(ctx, in, info, handler)
}

func evaluateAccessHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionService).EvaluateAccess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/EvaluateAccess"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionService).EvaluateAccess(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveByCodeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionService).ResolveByCode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ResolveByCode"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionService).ResolveByCode(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
