package remote

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/lab-qlearner/internal/env"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lab.v1.LabService"

const (
	methodDimensions        = "/" + ServiceName + "/Dimensions"
	methodCurrentState      = "/" + ServiceName + "/CurrentState"
	methodApplicableActions = "/" + ServiceName + "/ApplicableActions"
	methodPerformAction     = "/" + ServiceName + "/PerformAction"
	methodFullState         = "/" + ServiceName + "/FullState"
	methodEncodeState       = "/" + ServiceName + "/EncodeState"
)

// #region server
// server adapts an env.Environment to the lab service.
type server struct {
	env env.Environment
}

// Register serves environment on s under ServiceName.
func Register(s *grpc.Server, environment env.Environment) {
	s.RegisterService(&serviceDesc, &server{env: environment})
}

func (s *server) dimensions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	states, actions, err := s.env.Dimensions(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{"states": states, "actions": actions})
}

func (s *server) currentState(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	st, err := s.env.CurrentState(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(int64(st)), nil
}

func (s *server) applicableActions(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.ListValue, error) {
	actions, err := s.env.ApplicableActions(ctx, int(in.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	return intsToList(actions)
}

func (s *server) performAction(ctx context.Context, in *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	if err := s.env.PerformAction(ctx, int(in.GetValue())); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *server) fullState(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	fields, err := s.env.FullState(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return intsToList(fields)
}

func (s *server) encodeState(ctx context.Context, in *structpb.ListValue) (*wrapperspb.Int64Value, error) {
	enc, ok := s.env.(env.StateEncoder)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "environment does not encode states")
	}
	fields, err := listToInts(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	st, err := enc.EncodeState(ctx, fields)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Int64(int64(st)), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
// #endregion server

// #region service-desc
func unaryHandler[Req any, Resp any](method string, call func(*server, context.Context, *Req) (Resp, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*server)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(s, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dimensions", Handler: unaryHandler(methodDimensions, (*server).dimensions)},
		{MethodName: "CurrentState", Handler: unaryHandler(methodCurrentState, (*server).currentState)},
		{MethodName: "ApplicableActions", Handler: unaryHandler(methodApplicableActions, (*server).applicableActions)},
		{MethodName: "PerformAction", Handler: unaryHandler(methodPerformAction, (*server).performAction)},
		{MethodName: "FullState", Handler: unaryHandler(methodFullState, (*server).fullState)},
		{MethodName: "EncodeState", Handler: unaryHandler(methodEncodeState, (*server).encodeState)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lab/v1/lab.proto",
}
// #endregion service-desc

// #region conversions
func intsToList(values []int) (*structpb.ListValue, error) {
	items := make([]interface{}, len(values))
	for i, v := range values {
		items[i] = v
	}
	return structpb.NewList(items)
}

func listToInts(l *structpb.ListValue) ([]int, error) {
	values := l.GetValues()
	out := make([]int, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		if n.NumberValue != math.Trunc(n.NumberValue) {
			return nil, fmt.Errorf("element %d is not an integer: %v", i, n.NumberValue)
		}
		out[i] = int(n.NumberValue)
	}
	return out, nil
}
// #endregion conversions
