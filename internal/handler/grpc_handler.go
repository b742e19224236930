package handler

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/errors"
)

// ServiceName is the fully qualified gRPC service. Requests and responses are
// google.protobuf.Struct messages carrying the same JSON shapes as the HTTP API;
// the purchase request id travels as "pr_id".
const ServiceName = "procurement.v1.PurchaseRequests"

// PurchaseRequestsServer is the handler type registered with grpc.Server.
type PurchaseRequestsServer interface {
	Invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

// GRPCHandler implements PurchaseRequestsServer
type GRPCHandler struct {
	ops    map[string]operation
	logger zerolog.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(svc Services, logger zerolog.Logger) *GRPCHandler {
	o := &operations{svc: svc}
	return &GRPCHandler{
		ops:    o.table(),
		logger: logger.With().Str("handler", "grpc").Logger(),
	}
}

// Register attaches the handler to s.
func (h *GRPCHandler) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(serviceDesc(h.methods()), h)
}

func (h *GRPCHandler) methods() []string {
	names := make([]string, 0, len(h.ops))
	for name := range h.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs method with the caller from ctx.
func (h *GRPCHandler) Invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	op, ok := h.ops[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, toGRPCError(err)
	}

	raw, err := protojson.Marshal(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	var ref struct {
		PRID string `json:"pr_id"`
	}
	_ = json.Unmarshal(raw, &ref)

	h.logger.Debug().
		Str("method", method).
		Str("pr_id", ref.PRID).
		Str("actor_id", actor.UserID).
		Msg("gRPC call")

	out, err := op(ctx, call{
		Actor: actor,
		PRID:  ref.PRID,
		decode: func(v any) error {
			if err := json.Unmarshal(raw, v); err != nil {
				return errors.InvalidInput("body", "invalid request body")
			}
			return nil
		},
	})
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeInternal {
			h.logger.Error().Err(err).Str("method", method).Msg("gRPC call failed")
		}
		return nil, toGRPCError(err)
	}
	return toStruct(out)
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func serviceDesc(methods []string) *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*PurchaseRequestsServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "procurement/v1/purchase_requests.proto",
	}
	for _, name := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name),
		})
	}
	return desc
}

func unaryHandler(method string) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return srv.(PurchaseRequestsServer).Invoke(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(PurchaseRequestsServer).Invoke(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
