package inference

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// fakeAssistant answers Generate calls like the hosted inference function.
type fakeAssistant struct {
	token   string
	delay   time.Duration
	failing codes.Code
	last    chan *structpb.Struct
}

func (f *fakeAssistant) generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	select {
	case f.last <- in:
	default:
	}
	md, _ := metadata.FromIncomingContext(ctx)
	if auth := md.Get("authorization"); len(auth) == 0 || auth[0] != "Bearer "+f.token {
		return nil, status.Error(codes.Unauthenticated, "The function must be called while authenticated.")
	}
	if f.failing != codes.OK {
		return nil, status.Error(f.failing, "backend failure")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return structpb.NewStruct(map[string]any{
		"messageId": "msg-1",
		"response":  "Tus reproducciones crecieron un 12%.",
	})
}

func startFakeAssistant(t *testing.T, f *fakeAssistant) *bufconn.Listener {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "zeus.v1.Assistant",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Generate",
			Handler: func(s any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := new(structpb.Struct)
				if err := dec(in); err != nil {
					return nil, err
				}
				return s.(*fakeAssistant).generate(ctx, in)
			},
		}},
	}, f)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func newTestGrpcClient(t *testing.T, lis *bufconn.Listener, token string, timeout time.Duration) *GrpcClient {
	t.Helper()

	client, err := NewGrpcClient(GrpcClientConfig{
		Address:        "passthrough:///bufnet",
		AuthToken:      token,
		HistoryLimit:   2,
		RequestTimeout: timeout,
	}, nil, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewGrpcClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestGrpcClientGenerate(t *testing.T) {
	t.Parallel()

	f := &fakeAssistant{token: "secret", last: make(chan *structpb.Struct, 1)}
	client := newTestGrpcClient(t, startFakeAssistant(t, f), "secret", time.Second)

	history := []domain.Turn{
		domain.Committed("1", domain.RoleUser, "hola", time.Unix(1, 0)),
		domain.Committed("2", domain.RoleAssistant, "¡Hola!", time.Unix(2, 0)),
		domain.Pending("3", "", time.Unix(3, 0)),
		domain.Committed("4", domain.RoleUser, "¿qué tal?", time.Unix(4, 0)),
	}
	reply, err := client.Generate(context.Background(), Request{
		RequestID: "req-1",
		SessionID: "sess-1",
		Prompt:    "Muéstrame las estadísticas",
		History:   history,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply.MessageID != "msg-1" || reply.Text == "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	in := <-f.last
	fields := in.GetFields()
	if fields["query"].GetStringValue() != "Muéstrame las estadísticas" {
		t.Fatalf("unexpected query: %v", fields["query"])
	}
	if fields["sessionId"].GetStringValue() != "sess-1" {
		t.Fatalf("unexpected sessionId: %v", fields["sessionId"])
	}
	sent := fields["conversationHistory"].GetListValue().GetValues()
	if len(sent) != 2 {
		t.Fatalf("expected history bounded to 2 committed turns, got %d", len(sent))
	}
	if got := sent[1].GetStructValue().GetFields()["content"].GetStringValue(); got != "¿qué tal?" {
		t.Fatalf("expected most recent turn last, got %q", got)
	}
}

func TestGrpcClientErrorTaxonomy(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		server  *fakeAssistant
		token   string
		timeout time.Duration
		want    error
	}{
		"unauthenticated": {server: &fakeAssistant{token: "secret"}, token: "", timeout: time.Second, want: ErrAuth},
		"remote":          {server: &fakeAssistant{token: "secret", failing: codes.Internal}, token: "secret", timeout: time.Second, want: ErrRemote},
		"timeout":         {server: &fakeAssistant{token: "secret", delay: time.Second}, token: "secret", timeout: 50 * time.Millisecond, want: ErrTimeout},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			client := newTestGrpcClient(t, startFakeAssistant(t, tc.server), tc.token, tc.timeout)
			_, err := client.Generate(context.Background(), Request{RequestID: "r", SessionID: "s", Prompt: "hola"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}
