package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/lab-qlearner/internal/env"
)

// #region harness
func serve(t *testing.T, environment env.Environment) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, environment)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// slowEnv blocks every call until its context ends.
type slowEnv struct{ env.Environment }

func (slowEnv) CurrentState(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// plainEnv hides the Lab's state encoder.
type plainEnv struct{ env.Environment }

type brokenEnv struct{ env.Environment }

func (brokenEnv) PerformAction(context.Context, int) error {
	return errors.New("relay offline")
}
// #endregion harness

// #region round-trip-tests
func TestRoundTripAgainstLab(t *testing.T) {
	ctx := context.Background()
	lab := env.NewLab()
	c := serve(t, lab)

	states, actions, err := c.Dimensions(ctx)
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	if states != env.LabStateCount || actions != env.LabActionCount {
		t.Fatalf("expected %dx%d, got %dx%d", env.LabStateCount, env.LabActionCount, states, actions)
	}

	if err := c.PerformAction(ctx, 1); err != nil {
		t.Fatalf("PerformAction: %v", err)
	}
	s, err := c.CurrentState(ctx)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	want, _ := lab.CurrentState(ctx)
	if s != want {
		t.Fatalf("expected state %d, got %d", want, s)
	}

	applicable, err := c.ApplicableActions(ctx, s)
	if err != nil {
		t.Fatalf("ApplicableActions: %v", err)
	}
	wantApplicable, _ := lab.ApplicableActions(ctx, s)
	if len(applicable) != len(wantApplicable) {
		t.Fatalf("expected %v, got %v", wantApplicable, applicable)
	}
	for i := range applicable {
		if applicable[i] != wantApplicable[i] {
			t.Fatalf("expected %v, got %v", wantApplicable, applicable)
		}
	}

	fields, err := c.FullState(ctx)
	if err != nil {
		t.Fatalf("FullState: %v", err)
	}
	z1, z2, err := env.ZoneLevels(fields)
	if err != nil {
		t.Fatalf("ZoneLevels: %v", err)
	}
	if z1 != 2 || z2 != 0 {
		t.Fatalf("expected (2,0), got (%d,%d)", z1, z2)
	}

	encoded, err := c.EncodeState(ctx, fields)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	if encoded != s {
		t.Fatalf("expected encoded state %d, got %d", s, encoded)
	}
}
// #endregion round-trip-tests

// #region error-tests
func TestServerErrorsSurface(t *testing.T) {
	ctx := context.Background()
	c := serve(t, env.NewLab())

	if _, err := c.ApplicableActions(ctx, env.LabStateCount); status.Code(errors.Unwrap(err)) != codes.Internal {
		t.Fatalf("expected Internal for out-of-range state, got %v", err)
	}
	if _, err := c.EncodeState(ctx, []int{3, 0, 0, 0, 0, 0, 2}); status.Code(errors.Unwrap(err)) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestPerformActionFailure(t *testing.T) {
	c := serve(t, brokenEnv{env.NewLab()})
	err := c.PerformAction(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error")
	}
	if st, _ := status.FromError(errors.Unwrap(err)); st.Message() != "relay offline" {
		t.Errorf("expected relay message, got %v", err)
	}
}

func TestEncodeStateUnsupported(t *testing.T) {
	c := serve(t, plainEnv{env.NewLab()})
	_, err := c.EncodeState(context.Background(), []int{0, 0, 0, 0, 0, 0, 2})
	if status.Code(errors.Unwrap(err)) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented, got %v", err)
	}
}

func TestCallTimeout(t *testing.T) {
	c := serve(t, slowEnv{env.NewLab()})
	c.CallTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.CurrentState(context.Background())
	if status.Code(errors.Unwrap(err)) != codes.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("call took %s", elapsed)
	}
}

func TestUnreachableServer(t *testing.T) {
	c, err := NewClient("127.0.0.1:1")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer c.Close()
	c.CallTimeout = 200 * time.Millisecond
	if _, err := c.CurrentState(context.Background()); err == nil {
		t.Fatal("expected error from unreachable server")
	}
}
// #endregion error-tests

// #region conversion-tests
func TestListToIntsRejectsNonIntegers(t *testing.T) {
	l := &structpb.ListValue{Values: []*structpb.Value{structpb.NewNumberValue(1), structpb.NewNumberValue(1.5)}}
	if _, err := listToInts(l); err == nil {
		t.Fatal("expected error for fractional element")
	}
	l = &structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("1")}}
	if _, err := listToInts(l); err == nil {
		t.Fatal("expected error for string element")
	}
}
// #endregion conversion-tests
