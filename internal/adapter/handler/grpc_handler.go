package handler

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/SadaleNet/esun-sate/internal/core/domain"
	"github.com/SadaleNet/esun-sate/internal/core/service"
	"github.com/SadaleNet/esun-sate/internal/platform/logging"
)

const orderServiceName = "esunsate.v1.OrderService"

// OrderServiceServer is the server API of esunsate.v1.OrderService.
type OrderServiceServer interface {
	SubmitOrder(context.Context, *SubmitOrderRequest) (*SubmitOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderView, error)
	ChangeOrderStatus(context.Context, *ChangeOrderStatusRequest) (*ChangeOrderStatusResponse, error)
	GetAvailability(context.Context, *GetAvailabilityRequest) (*AvailabilityResponse, error)
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: orderServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitOrder", Handler: unaryHandler("SubmitOrder", OrderServiceServer.SubmitOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler("GetOrder", OrderServiceServer.GetOrder)},
		{MethodName: "ChangeOrderStatus", Handler: unaryHandler("ChangeOrderStatus", OrderServiceServer.ChangeOrderStatus)},
		{MethodName: "GetAvailability", Handler: unaryHandler("GetAvailability", OrderServiceServer.GetAvailability)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "esunsate/v1/order_service",
}

func unaryHandler[Req, Resp any](method string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + orderServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var adminMethods = map[string]bool{
	"/" + orderServiceName + "/ChangeOrderStatus": true,
}

// AdminInterceptor refuses operator methods to callers the authorizer does not
// accept. Other methods pass through untouched.
func AdminInterceptor(auth ContextAuthorizer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if adminMethods[info.FullMethod] && (auth == nil || !auth.IsAdminContext(ctx)) {
			return nil, status.Error(codes.PermissionDenied, "permission denied")
		}
		return handler(ctx, req)
	}
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&orderServiceDesc, srv)
}

type GRPCHandler struct {
	orders    *service.OrderService
	inventory *service.InventoryService
	logger    *zap.Logger
}

func NewGRPCHandler(orders *service.OrderService, inventory *service.InventoryService, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{orders: orders, inventory: inventory, logger: logging.OrNop(logger)}
}

func (h *GRPCHandler) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	in := req.OrderRequest
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		in.IP = peerHost(p.Addr)
	}
	res, err := h.orders.Submit(ctx, in)
	if err != nil {
		return nil, h.toStatus("SubmitOrder", err)
	}
	out := newSubmitOrderResponse(res)
	return &out, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderView, error) {
	order, err := h.orders.Lookup(ctx, req.Token)
	if err != nil {
		return nil, h.toStatus("GetOrder", err)
	}
	view := newOrderView(order)
	return &view, nil
}

// ChangeOrderStatus is an operator call. Servers guard it with AdminInterceptor.
func (h *GRPCHandler) ChangeOrderStatus(ctx context.Context, req *ChangeOrderStatusRequest) (*ChangeOrderStatusResponse, error) {
	if err := h.orders.ChangeStatus(ctx, req.OrderID, req.Status); err != nil {
		return nil, h.toStatus("ChangeOrderStatus", err)
	}
	return &ChangeOrderStatusResponse{
		OrderID:    req.OrderID,
		Status:     req.Status,
		StatusName: req.Status.String(),
	}, nil
}

func (h *GRPCHandler) GetAvailability(ctx context.Context, _ *GetAvailabilityRequest) (*AvailabilityResponse, error) {
	available, err := h.inventory.Availability(ctx)
	if err != nil {
		return nil, h.toStatus("GetAvailability", err)
	}
	return &AvailabilityResponse{Available: available}, nil
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, domain.ErrInvalidBaseline):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.logger.Error("grpc call failed", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Unavailable, "storage unavailable")
	}
	h.logger.Error("grpc call failed", zap.String("method", method), zap.Error(err))
	return status.Error(codes.Internal, "internal error")
}

func peerHost(addr net.Addr) string {
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}

// OrderServiceClient calls esunsate.v1.OrderService with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) SubmitOrder(ctx context.Context, in *SubmitOrderRequest, opts ...grpc.CallOption) (*SubmitOrderResponse, error) {
	out := new(SubmitOrderResponse)
	if err := c.invoke(ctx, "SubmitOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderView, error) {
	out := new(OrderView)
	if err := c.invoke(ctx, "GetOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ChangeOrderStatus(ctx context.Context, in *ChangeOrderStatusRequest, opts ...grpc.CallOption) (*ChangeOrderStatusResponse, error) {
	out := new(ChangeOrderStatusResponse)
	if err := c.invoke(ctx, "ChangeOrderStatus", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetAvailability(ctx context.Context, in *GetAvailabilityRequest, opts ...grpc.CallOption) (*AvailabilityResponse, error) {
	out := new(AvailabilityResponse)
	if err := c.invoke(ctx, "GetAvailability", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+orderServiceName+"/"+method, in, out, opts...)
}
