// Package app assembles the payment service on top of a bootstrapped runtime.
package app

import (
	"context"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"

	"shadowrt/internal/bootstrap"
	paygrpc "shadowrt/internal/pay/adapters/grpc"
	"shadowrt/internal/pay/handler"
	"shadowrt/internal/pay/service"
	"shadowrt/internal/pay/store"
)

// Mount creates the payments table and returns the router serving the
// payment API.
func Mount(ctx context.Context, svc *bootstrap.Service) (chi.Router, error) {
	st := store.New(svc.DomainDB)
	if err := st.Init(ctx); err != nil {
		return nil, err
	}
	r := svc.Router()
	handler.New(service.New(st, svc.Runtime), svc.Runtime, svc.Logger).Register(r)
	return r, nil
}

// GRPCServer returns a gRPC server accepting labeled charges into the same
// payments table. Mount must have run first.
func GRPCServer(svc *bootstrap.Service) *grpc.Server {
	st := store.New(svc.DomainDB)
	return paygrpc.NewGRPCServer(svc.Runtime, service.New(st, svc.Runtime), svc.Logger)
}
