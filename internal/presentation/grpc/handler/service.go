package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPCサービス名
const ServiceName = "credits.v1.CreditsService"

// メソッドのフルネーム（インターセプターの対象指定に使う）
const (
	GetBalanceMethod = "/" + ServiceName + "/GetBalance"
	ConsumeMethod    = "/" + ServiceName + "/Consume"
	RefundMethod     = "/" + ServiceName + "/Refund"
	RedeemCodeMethod = "/" + ServiceName + "/RedeemCode"
)

// CreditsServiceServer クレジットサービスのサーバーインターフェース
// メッセージは google.protobuf.Struct で受け渡す
type CreditsServiceServer interface {
	GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Consume(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Refund(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RedeemCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv CreditsServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// unaryHandler grpc.MethodDesc用のハンドラーを組み立てる
func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CreditsServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(CreditsServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CreditsServiceDesc credits.v1.CreditsService のサービス定義
var CreditsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CreditsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBalance",
			Handler: unaryHandler(GetBalanceMethod, func(srv CreditsServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.GetBalance(ctx, req)
			}),
		},
		{
			MethodName: "Consume",
			Handler: unaryHandler(ConsumeMethod, func(srv CreditsServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.Consume(ctx, req)
			}),
		},
		{
			MethodName: "Refund",
			Handler: unaryHandler(RefundMethod, func(srv CreditsServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.Refund(ctx, req)
			}),
		},
		{
			MethodName: "RedeemCode",
			Handler: unaryHandler(RedeemCodeMethod, func(srv CreditsServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				return srv.RedeemCode(ctx, req)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credits/v1/credits.proto",
}

// RegisterCreditsServiceServer サービスをgRPCサーバーに登録
func RegisterCreditsServiceServer(s grpc.ServiceRegistrar, srv CreditsServiceServer) {
	s.RegisterService(&CreditsServiceDesc, srv)
}
