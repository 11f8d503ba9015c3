package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName: полное имя gRPC-сервиса магазина.
const ServiceName = "storefront.v1.StoreService"

// Полные имена методов.
const (
	MethodListItems        = "/" + ServiceName + "/ListItems"
	MethodListCategories   = "/" + ServiceName + "/ListCategories"
	MethodGetCart          = "/" + ServiceName + "/GetCart"
	MethodAddToCart        = "/" + ServiceName + "/AddToCart"
	MethodRemoveFromCart   = "/" + ServiceName + "/RemoveFromCart"
	MethodCheckout         = "/" + ServiceName + "/Checkout"
	MethodListOrders       = "/" + ServiceName + "/ListOrders"
	MethodGenerateDiscount = "/" + ServiceName + "/GenerateDiscount"
	MethodGetStats         = "/" + ServiceName + "/GetStats"
)

// StoreServiceServer: серверная сторона StoreService.
// Сообщения передаются как google.protobuf.Struct, поэтому кодогенерация не требуется.
type StoreServiceServer interface {
	ListItems(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCategories(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddToCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveFromCart(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Checkout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListOrders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateDiscount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(StoreServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name, fullMethod string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(StoreServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(StoreServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// StoreServiceDesc описывает StoreService для grpc.Server.
var StoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StoreServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ListItems", MethodListItems, StoreServiceServer.ListItems),
		unaryMethod("ListCategories", MethodListCategories, StoreServiceServer.ListCategories),
		unaryMethod("GetCart", MethodGetCart, StoreServiceServer.GetCart),
		unaryMethod("AddToCart", MethodAddToCart, StoreServiceServer.AddToCart),
		unaryMethod("RemoveFromCart", MethodRemoveFromCart, StoreServiceServer.RemoveFromCart),
		unaryMethod("Checkout", MethodCheckout, StoreServiceServer.Checkout),
		unaryMethod("ListOrders", MethodListOrders, StoreServiceServer.ListOrders),
		unaryMethod("GenerateDiscount", MethodGenerateDiscount, StoreServiceServer.GenerateDiscount),
		unaryMethod("GetStats", MethodGetStats, StoreServiceServer.GetStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "storefront/v1/store.proto",
}

// RegisterStoreServiceServer регистрирует реализацию на grpc.Server.
func RegisterStoreServiceServer(s grpc.ServiceRegistrar, srv StoreServiceServer) {
	s.RegisterService(&StoreServiceDesc, srv)
}

// StoreServiceClient: клиент StoreService.
type StoreServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewStoreServiceClient создаёт клиента поверх соединения.
func NewStoreServiceClient(cc grpc.ClientConnInterface) *StoreServiceClient {
	return &StoreServiceClient{cc: cc}
}

// Call вызывает метод по полному имени. Пустой in отправляется как пустая структура.
func (c *StoreServiceClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
