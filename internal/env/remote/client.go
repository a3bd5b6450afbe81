package remote

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region client-struct
// Client reaches a lab service over gRPC. It implements env.Environment and
// env.StateEncoder.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface

	// CallTimeout bounds each call when positive.
	CallTimeout time.Duration
}
// #endregion client-struct

// #region constructor
// NewClient connects to the lab service at addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. Close is a no-op on the
// returned client.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion constructor

// #region calls
func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	if c.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.CallTimeout)
		defer cancel()
	}
	return c.cc.Invoke(ctx, method, in, out)
}

// Dimensions asks the service for its state and action counts.
func (c *Client) Dimensions(ctx context.Context) (int, int, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, methodDimensions, &emptypb.Empty{}, out); err != nil {
		return 0, 0, fmt.Errorf("dimensions rpc: %w", err)
	}
	fields := out.GetFields()
	states, actions := fields["states"].GetNumberValue(), fields["actions"].GetNumberValue()
	return int(states), int(actions), nil
}

// CurrentState returns the service's current state index.
func (c *Client) CurrentState(ctx context.Context) (int, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.invoke(ctx, methodCurrentState, &emptypb.Empty{}, out); err != nil {
		return 0, fmt.Errorf("current state rpc: %w", err)
	}
	return int(out.GetValue()), nil
}

// ApplicableActions lists the actions the service allows in state.
func (c *Client) ApplicableActions(ctx context.Context, state int) ([]int, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, methodApplicableActions, wrapperspb.Int64(int64(state)), out); err != nil {
		return nil, fmt.Errorf("applicable actions rpc: %w", err)
	}
	actions, err := listToInts(out)
	if err != nil {
		return nil, fmt.Errorf("applicable actions rpc: %w", err)
	}
	return actions, nil
}

// PerformAction executes action on the service.
func (c *Client) PerformAction(ctx context.Context, action int) error {
	if err := c.invoke(ctx, methodPerformAction, wrapperspb.Int64(int64(action)), new(emptypb.Empty)); err != nil {
		return fmt.Errorf("perform action rpc: %w", err)
	}
	return nil
}

// FullState returns the service's raw state vector.
func (c *Client) FullState(ctx context.Context) ([]int, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, methodFullState, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("full state rpc: %w", err)
	}
	fields, err := listToInts(out)
	if err != nil {
		return nil, fmt.Errorf("full state rpc: %w", err)
	}
	return fields, nil
}

// EncodeState asks the service to map a state description to an index.
func (c *Client) EncodeState(ctx context.Context, fields []int) (int, error) {
	in, err := intsToList(fields)
	if err != nil {
		return 0, err
	}
	out := new(wrapperspb.Int64Value)
	if err := c.invoke(ctx, methodEncodeState, in, out); err != nil {
		return 0, fmt.Errorf("encode state rpc: %w", err)
	}
	return int(out.GetValue()), nil
}
// #endregion calls
