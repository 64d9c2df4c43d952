package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// orderingServer — набор методов, которые обязан реализовать обработчик сервиса.
type orderingServer interface {
	AddItem(context.Context, *AddItemRequest) (*CartResponse, error)
	RemoveItem(context.Context, *RemoveItemRequest) (*CartResponse, error)
	GetCart(context.Context, *CartRequest) (*CartResponse, error)
	ClearCart(context.Context, *CartRequest) (*CartResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*OrderResponse, error)
	GetOrder(context.Context, *OrderRequest) (*GetOrderResponse, error)
	TrackOrder(context.Context, *TrackOrderRequest) (*OrderResponse, error)
	ListCustomerOrders(context.Context, *ListCustomerOrdersRequest) (*ListOrdersResponse, error)
	ListOutletOrders(context.Context, *ListOutletOrdersRequest) (*ListOrdersResponse, error)
	UpdateStatus(context.Context, *UpdateStatusRequest) (*OrderResponse, error)
	UpdatePaymentStatus(context.Context, *UpdateStatusRequest) (*OrderResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*orderingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddItem", orderingServer.AddItem),
		unary("RemoveItem", orderingServer.RemoveItem),
		unary("GetCart", orderingServer.GetCart),
		unary("ClearCart", orderingServer.ClearCart),
		unary("PlaceOrder", orderingServer.PlaceOrder),
		unary("GetOrder", orderingServer.GetOrder),
		unary("TrackOrder", orderingServer.TrackOrder),
		unary("ListCustomerOrders", orderingServer.ListCustomerOrders),
		unary("ListOutletOrders", orderingServer.ListOutletOrders),
		unary("UpdateStatus", orderingServer.UpdateStatus),
		unary("UpdatePaymentStatus", orderingServer.UpdatePaymentStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "foodoms/v1/ordering.json",
}

// unary строит описание unary-метода с декодированием запроса и поддержкой интерсепторов.
func unary[Req, Resp any](name string, call func(orderingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(orderingServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

var _ orderingServer = (*Server)(nil)
