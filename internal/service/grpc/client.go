package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client — типизированный клиент сервиса поверх gRPC-соединения.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient создаёт клиента. Сообщения кодируются JSON-кодеком сервиса.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// WithIdempotencyKey добавляет ключ идемпотентности в исходящие метаданные.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, idempotencyKeyHeader, key)
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddItem(ctx context.Context, req *AddItemRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c, "AddItem", req, opts)
}

func (c *Client) RemoveItem(ctx context.Context, req *RemoveItemRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c, "RemoveItem", req, opts)
}

func (c *Client) GetCart(ctx context.Context, req *CartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c, "GetCart", req, opts)
}

func (c *Client) ClearCart(ctx context.Context, req *CartRequest, opts ...grpc.CallOption) (*CartResponse, error) {
	return invoke[CartResponse](ctx, c, "ClearCart", req, opts)
}

func (c *Client) PlaceOrder(ctx context.Context, req *PlaceOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "PlaceOrder", req, opts)
}

func (c *Client) GetOrder(ctx context.Context, req *OrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c, "GetOrder", req, opts)
}

func (c *Client) TrackOrder(ctx context.Context, req *TrackOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "TrackOrder", req, opts)
}

func (c *Client) ListCustomerOrders(ctx context.Context, req *ListCustomerOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c, "ListCustomerOrders", req, opts)
}

func (c *Client) ListOutletOrders(ctx context.Context, req *ListOutletOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c, "ListOutletOrders", req, opts)
}

func (c *Client) UpdateStatus(ctx context.Context, req *UpdateStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "UpdateStatus", req, opts)
}

func (c *Client) UpdatePaymentStatus(ctx context.Context, req *UpdateStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, "UpdatePaymentStatus", req, opts)
}
