package handler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/auth"
	"github.com/pesio-ai/be-procurement-requests/internal/workflow"
)

func dialGRPC(t *testing.T) (*grpc.ClientConn, *auth.Verifier) {
	t.Helper()
	verifier := auth.NewVerifier("test-secret", "procurement-portal")
	srv := grpc.NewServer(grpc.UnaryInterceptor(verifier.UnaryServerInterceptor()))
	NewGRPCHandler(newServices(), zerolog.Nop()).Register(srv)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, verifier
}

func asUser(t *testing.T, v *auth.Verifier, userID string, role workflow.Role) context.Context {
	t.Helper()
	tok, err := v.Issue(userID, string(role), time.Minute)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCLifecycle(t *testing.T) {
	conn, v := dialGRPC(t)
	requestor := asUser(t, v, "req-1", workflow.RoleRequestor)

	out, err := invoke(requestor, conn, "CreateDraft", map[string]any{
		"type":     "commercial",
		"currency": "USD",
		"items": []any{
			map[string]any{"description": "Chair", "quantity": 4, "unit_price": "125.50"},
		},
	})
	require.NoError(t, err)
	id := out.Fields["id"].GetStringValue()
	require.NotEmpty(t, id)
	assert.Equal(t, "502", out.Fields["total_amount"].GetStringValue())

	out, err = invoke(requestor, conn, "Submit", map[string]any{"pr_id": id})
	require.NoError(t, err)
	assert.Equal(t, "MANAGER_PENDING", out.Fields["status"].GetStringValue())

	manager := asUser(t, v, "mgr-1", workflow.RoleManager)
	out, err = invoke(manager, conn, "Approve", map[string]any{"pr_id": id, "expected_version": out.Fields["version"].GetNumberValue()})
	require.NoError(t, err)
	assert.Equal(t, "BRANCH_MANAGER_PENDING", out.Fields["status"].GetStringValue())

	out, err = invoke(manager, conn, "GetSLAStatus", map[string]any{"pr_id": id})
	require.NoError(t, err)
	assert.Equal(t, "on_time", out.Fields["classification"].GetStringValue())
}

func TestGRPCErrors(t *testing.T) {
	conn, v := dialGRPC(t)

	_, err := invoke(context.Background(), conn, "GetPurchaseRequest", map[string]any{"pr_id": "x"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	requestor := asUser(t, v, "req-1", workflow.RoleRequestor)
	_, err = invoke(requestor, conn, "GetPurchaseRequest", map[string]any{"pr_id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	out, err := invoke(requestor, conn, "CreateDraft", map[string]any{
		"type": "commercial", "currency": "USD",
		"items": []any{map[string]any{"description": "Desk", "quantity": 1, "unit_price": 90}},
	})
	require.NoError(t, err)

	manager := asUser(t, v, "mgr-1", workflow.RoleManager)
	_, err = invoke(manager, conn, "Approve", map[string]any{"pr_id": out.Fields["id"].GetStringValue()})
	st := status.Convert(err)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	require.Len(t, st.Details(), 1)
	info, ok := st.Details()[0].(*errdetails.ErrorInfo)
	require.True(t, ok)
	assert.Equal(t, "INVALID_TRANSITION", info.Reason)
	assert.Equal(t, "DRAFT", info.Metadata["current_status"])
}
