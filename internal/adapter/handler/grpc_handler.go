package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/sweet-shop/internal/core/domain"
	"github.com/rl1809/sweet-shop/internal/core/service"
)

const (
	inventoryServiceName = "sweetshop.inventory.v1.InventoryService"

	purchaseMethod = "/" + inventoryServiceName + "/Purchase"
	restockMethod  = "/" + inventoryServiceName + "/Restock"
	getItemMethod  = "/" + inventoryServiceName + "/GetItem"

	insufficientStockReason = "INSUFFICIENT_STOCK"
	errorDomain             = "sweetshop.inventory"
)

type PurchaseRPCRequest struct {
	ItemID         int64  `json:"item_id"`
	Quantity       *int   `json:"quantity,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type PurchaseRPCResponse struct {
	Item      domain.StockItem `json:"item"`
	Purchased int              `json:"purchased"`
}

type RestockRPCRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type RestockRPCResponse struct {
	Item      domain.StockItem `json:"item"`
	Restocked int              `json:"restocked"`
}

type GetItemRPCRequest struct {
	ItemID int64 `json:"item_id"`
}

type GetItemRPCResponse struct {
	Item domain.StockItem `json:"item"`
}

// InventoryServer is the server API for the inventory service.
type InventoryServer interface {
	Purchase(context.Context, *PurchaseRPCRequest) (*PurchaseRPCResponse, error)
	Restock(context.Context, *RestockRPCRequest) (*RestockRPCResponse, error)
	GetItem(context.Context, *GetItemRPCRequest) (*GetItemRPCResponse, error)
}

type GRPCHandler struct {
	ledger *service.InventoryLedger
}

func NewGRPCHandler(ledger *service.InventoryLedger) *GRPCHandler {
	return &GRPCHandler{ledger: ledger}
}

func (h *GRPCHandler) Purchase(ctx context.Context, req *PurchaseRPCRequest) (*PurchaseRPCResponse, error) {
	quantity := domain.DefaultPurchaseQuantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	result, err := h.ledger.Purchase(ctx, service.PurchaseRequest{
		Caller:         callerFromContext(ctx),
		ItemID:         req.ItemID,
		Quantity:       quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &PurchaseRPCResponse{Item: result.Item, Purchased: result.Purchased}, nil
}

func (h *GRPCHandler) Restock(ctx context.Context, req *RestockRPCRequest) (*RestockRPCResponse, error) {
	result, err := h.ledger.Restock(ctx, service.RestockRequest{
		Caller:   callerFromContext(ctx),
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	return &RestockRPCResponse{Item: result.Item, Restocked: result.Restocked}, nil
}

func (h *GRPCHandler) GetItem(ctx context.Context, req *GetItemRPCRequest) (*GetItemRPCResponse, error) {
	item, err := h.ledger.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetItemRPCResponse{Item: *item}, nil
}

// NewGRPCServer builds a server with the inventory and health services
// registered. Purchase and Restock require a bearer token in the
// "authorization" metadata.
func NewGRPCServer(h InventoryServer, resolver TokenResolver, logger *zap.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.NewNop()
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		loggingInterceptor(logger),
		authInterceptor(resolver, purchaseMethod, restockMethod),
	))
	server.RegisterService(&inventoryServiceDesc, h)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(inventoryServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

type callerContextKey struct{}

func callerFromContext(ctx context.Context) domain.Caller {
	caller, _ := ctx.Value(callerContextKey{}).(domain.Caller)
	return caller
}

func authInterceptor(resolver TokenResolver, methods ...string) grpc.UnaryServerInterceptor {
	protected := make(map[string]bool, len(methods))
	for _, m := range methods {
		protected[m] = true
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !protected[info.FullMethod] {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}

		token, err := bearerToken(header)
		if err != nil {
			return nil, toStatus(err)
		}
		caller, err := resolver.Resolve(token)
		if err != nil {
			return nil, toStatus(err)
		}

		return handler(context.WithValue(ctx, callerContextKey{}, caller), req)
	}
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch code {
		case codes.Internal, codes.Unavailable, codes.Unknown:
			logger.Error("rpc completed", append(fields, zap.Error(err))...)
		default:
			logger.Info("rpc completed", fields...)
		}
		return resp, err
	}
}

func toStatus(err error) error {
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		st := status.New(codes.FailedPrecondition, stockErr.Error())
		detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{
			Reason: insufficientStockReason,
			Domain: errorDomain,
			Metadata: map[string]string{
				"item_id":   strconv.FormatInt(stockErr.ItemID, 10),
				"available": strconv.Itoa(stockErr.Available),
				"requested": strconv.Itoa(stockErr.Requested),
			},
		})
		if detailErr != nil {
			return st.Err()
		}
		return detailed.Err()
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "store unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// InsufficientStockFromStatus extracts available and requested from a
// FAILED_PRECONDITION status produced for an insufficient stock rejection.
func InsufficientStockFromStatus(err error) (*domain.InsufficientStockError, bool) {
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.FailedPrecondition {
		return nil, false
	}

	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok || info.GetReason() != insufficientStockReason {
			continue
		}
		itemID, _ := strconv.ParseInt(info.GetMetadata()["item_id"], 10, 64)
		available, errA := strconv.Atoi(info.GetMetadata()["available"])
		requested, errR := strconv.Atoi(info.GetMetadata()["requested"])
		if errA != nil || errR != nil {
			return nil, false
		}
		return &domain.InsufficientStockError{ItemID: itemID, Available: available, Requested: requested}, true
	}
	return nil, false
}

func purchaseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PurchaseRPCRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).Purchase(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: purchaseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).Purchase(ctx, req.(*PurchaseRPCRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func restockHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RestockRPCRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).Restock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: restockMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).Restock(ctx, req.(*RestockRPCRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getItemHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetItemRPCRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryServer).GetItem(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getItemMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InventoryServer).GetItem(ctx, req.(*GetItemRPCRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var inventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: inventoryServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Purchase", Handler: purchaseHandler},
		{MethodName: "Restock", Handler: restockHandler},
		{MethodName: "GetItem", Handler: getItemHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// InventoryClient calls the inventory service with the JSON codec.
type InventoryClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryClient(cc grpc.ClientConnInterface) *InventoryClient {
	return &InventoryClient{cc: cc}
}

func (c *InventoryClient) Purchase(ctx context.Context, in *PurchaseRPCRequest, opts ...grpc.CallOption) (*PurchaseRPCResponse, error) {
	out := new(PurchaseRPCResponse)
	if err := c.cc.Invoke(ctx, purchaseMethod, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) Restock(ctx context.Context, in *RestockRPCRequest, opts ...grpc.CallOption) (*RestockRPCResponse, error) {
	out := new(RestockRPCResponse)
	if err := c.cc.Invoke(ctx, restockMethod, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) GetItem(ctx context.Context, in *GetItemRPCRequest, opts ...grpc.CallOption) (*GetItemRPCResponse, error) {
	out := new(GetItemRPCResponse)
	if err := c.cc.Invoke(ctx, getItemMethod, in, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

// WithToken attaches a bearer token to outgoing calls.
func WithToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+strings.TrimSpace(token))
}
