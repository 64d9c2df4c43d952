package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpcsvc "github.com/vladislavdragonenkov/foodoms/internal/service/grpc"
)

// scenarioClient — часть API, которой пользуются сценарии. Реализуется *grpcsvc.Client.
type scenarioClient interface {
	AddItem(ctx context.Context, req *grpcsvc.AddItemRequest, opts ...grpc.CallOption) (*grpcsvc.CartResponse, error)
	GetCart(ctx context.Context, req *grpcsvc.CartRequest, opts ...grpc.CallOption) (*grpcsvc.CartResponse, error)
	PlaceOrder(ctx context.Context, req *grpcsvc.PlaceOrderRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
	TrackOrder(ctx context.Context, req *grpcsvc.TrackOrderRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
	UpdateStatus(ctx context.Context, req *grpcsvc.UpdateStatusRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
}

var _ scenarioClient = (*grpcsvc.Client)(nil)

type scenarioRunner struct {
	cfg   config
	runID string
	stats *collector
}

// run выполняет один сценарий. Каждому сценарию достаётся свой клиент, корзины не пересекаются.
func (r *scenarioRunner) run(client scenarioClient, index int) (err error) {
	started := time.Now()
	defer func() {
		r.stats.record("scenario", time.Since(started), grpcCode(err))
	}()

	customerID := fmt.Sprintf("%s-%s-%d", r.cfg.customerTag, r.runID, index)

	cartResp, err := call(r, "AddItem", func(ctx context.Context) (*grpcsvc.CartResponse, error) {
		return client.AddItem(ctx, &grpcsvc.AddItemRequest{
			CustomerID: customerID,
			FoodItemID: r.cfg.foodItemID,
			Qty:        int32(r.cfg.qty),
		})
	})
	if err != nil {
		return err
	}
	if len(cartResp.Cart.Items) == 0 {
		return status.Error(codes.Internal, "cart is empty after AddItem")
	}

	if r.cfg.mode == modeCart {
		_, err = call(r, "GetCart", func(ctx context.Context) (*grpcsvc.CartResponse, error) {
			return client.GetCart(ctx, &grpcsvc.CartRequest{CustomerID: customerID})
		})
		return err
	}

	placed, err := call(r, "PlaceOrder", func(ctx context.Context) (*grpcsvc.OrderResponse, error) {
		ctx = grpcsvc.WithIdempotencyKey(ctx, fmt.Sprintf("lt-place-%s-%d", r.runID, index))
		return client.PlaceOrder(ctx, &grpcsvc.PlaceOrderRequest{
			CustomerID:    customerID,
			PaymentMethod: r.cfg.paymentMethod,
		})
	})
	if err != nil {
		return err
	}
	if placed.Order.ID == "" || placed.Order.Token == "" {
		return status.Error(codes.Internal, "placed order has no id or token")
	}

	if r.cfg.mode == modePlaceTrack {
		tracked, err := call(r, "TrackOrder", func(ctx context.Context) (*grpcsvc.OrderResponse, error) {
			return client.TrackOrder(ctx, &grpcsvc.TrackOrderRequest{Token: placed.Order.Token})
		})
		if err != nil {
			return err
		}
		if tracked.Order.ID != placed.Order.ID {
			return status.Error(codes.Internal, "tracking token resolved to another order")
		}
	}

	if r.cfg.mode == modePlaceTrack || shouldAdvance(index, r.cfg.advanceRate) {
		_, err = call(r, "UpdateStatus", func(ctx context.Context) (*grpcsvc.OrderResponse, error) {
			return client.UpdateStatus(ctx, &grpcsvc.UpdateStatusRequest{OrderID: placed.Order.ID, Status: "PREPARING"})
		})
	}
	return err
}

// call выполняет RPC с таймаутом и записывает его латентность под именем method.
func call[Resp any](r *scenarioRunner, method string, rpc func(ctx context.Context) (*Resp, error)) (*Resp, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.timeout)
	defer cancel()

	started := time.Now()
	resp, err := rpc(ctx)
	r.stats.record(method, time.Since(started), grpcCode(err))
	if err == nil && resp == nil {
		return nil, errors.New(method + " returned no response")
	}
	return resp, err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldAdvance(index, rate int) bool {
	switch {
	case rate <= 0:
		return false
	case rate >= 100:
		return true
	default:
		return index%100 < rate
	}
}
