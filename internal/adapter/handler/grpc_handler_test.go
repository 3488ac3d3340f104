package handler

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
)

func newGRPCClient(t *testing.T, env *testEnv) *OrderServiceClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(AdminInterceptor(NewTokenAuthorizer(testAdminToken))))
	RegisterOrderServiceServer(srv, NewGRPCHandler(env.orders, env.inventory, nil))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewOrderServiceClient(conn)
}

func adminContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

func TestGRPC_SubmitAndGetOrder(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)
	ctx := context.Background()

	res, err := client.SubmitOrder(ctx, &SubmitOrderRequest{OrderRequest: orderRequest("grpc-1", map[string]string{"B": "2"})})
	require.NoError(t, err)
	require.True(t, res.Accepted, "errors: %v", res.Errors)
	assert.True(t, res.Created)

	view, err := client.GetOrder(ctx, &GetOrderRequest{Token: "grpc-1"})
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, view.ID)
	assert.Equal(t, domain.WarehouseAnte, view.Warehouse)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "B", view.Items[0].Item)
	assert.Equal(t, 2, view.Items[0].Quantity)
	assert.Equal(t, "12.50", view.Total.StringFixed(2))

	stored, err := env.ledger.GetOrderByKey(ctx, "grpc-1")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.IP)
}

func TestGRPC_SubmitValidationErrors(t *testing.T) {
	client := newGRPCClient(t, newTestEnv(t))

	req := orderRequest("grpc-bad", map[string]string{"B": "9"})
	req.Warehouse = "MARS"
	res, err := client.SubmitOrder(context.Background(), &SubmitOrderRequest{OrderRequest: req})
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, []string{domain.FieldAddress}, res.Errors.Fields())
}

func TestGRPC_GetOrderNotFound(t *testing.T) {
	client := newGRPCClient(t, newTestEnv(t))

	_, err := client.GetOrder(context.Background(), &GetOrderRequest{Token: "missing"})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_ChangeStatusAndAvailability(t *testing.T) {
	client := newGRPCClient(t, newTestEnv(t))
	ctx := context.Background()

	res, err := client.SubmitOrder(ctx, &SubmitOrderRequest{OrderRequest: orderRequest("grpc-st", map[string]string{"A": "4"})})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	avail, err := client.GetAvailability(ctx, &GetAvailabilityRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, avail.Available.Quantity(domain.WarehouseAnte, "A"))

	admin := adminContext(ctx, testAdminToken)
	changed, err := client.ChangeOrderStatus(admin, &ChangeOrderStatusRequest{OrderID: res.OrderID, Status: domain.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", changed.StatusName)

	avail, err = client.GetAvailability(ctx, &GetAvailabilityRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, avail.Available.Quantity(domain.WarehouseAnte, "A"))

	_, err = client.ChangeOrderStatus(admin, &ChangeOrderStatusRequest{OrderID: 404, Status: domain.OrderStatusShipped})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestGRPC_ChangeStatusRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)
	ctx := context.Background()

	res, err := client.SubmitOrder(ctx, &SubmitOrderRequest{OrderRequest: orderRequest("grpc-guard", map[string]string{"A": "2"})})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	cases := []struct {
		name string
		ctx  context.Context
	}{
		{"no credentials", ctx},
		{"wrong token", adminContext(ctx, "guess")},
		{"wrong scheme", metadata.AppendToOutgoingContext(ctx, "authorization", "Basic "+testAdminToken)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.ChangeOrderStatus(tc.ctx, &ChangeOrderStatusRequest{OrderID: res.OrderID, Status: domain.OrderStatusCancelled})
			assert.Equal(t, codes.PermissionDenied, status.Code(err))
		})
	}

	stored, err := env.ledger.GetOrderByID(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Len(t, stored.History, 1)

	avail, err := client.GetAvailability(ctx, &GetAvailabilityRequest{})
	require.NoError(t, err)
	assert.Equal(t, 3, avail.Available.Quantity(domain.WarehouseAnte, "A"))
}

func TestGRPC_StorageUnavailable(t *testing.T) {
	env := newTestEnv(t)
	client := newGRPCClient(t, env)
	require.NoError(t, env.ledger.Close())

	_, err := client.GetAvailability(context.Background(), &GetAvailabilityRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
