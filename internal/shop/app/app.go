// Package app assembles the shop service on top of a bootstrapped runtime.
package app

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"

	"shadowrt/internal/bootstrap"
	"shadowrt/internal/shop/adapters/pay"
	"shadowrt/internal/shop/handler"
	"shadowrt/internal/shop/service"
	"shadowrt/internal/shop/store"
)

// Mount creates the shop tables and returns the router serving the shop API.
// The payment service is the destination named service.DefaultPayApp; charges
// go to it over gRPC when SHADOW_PAY_GRPC is set.
func Mount(ctx context.Context, svc *bootstrap.Service) (chi.Router, error) {
	payURL := ""
	for _, d := range svc.Config.Destinations {
		if d.Name == service.DefaultPayApp {
			payURL = d.URL
		}
	}
	if payURL == "" {
		return nil, fmt.Errorf("shop: no %s destination configured", service.DefaultPayApp)
	}

	st := store.New(svc.DomainDB)
	if err := st.Init(ctx); err != nil {
		return nil, err
	}
	coord, err := svc.Coordinator(st)
	if err != nil {
		return nil, err
	}

	var payments service.PaymentClient = pay.NewClient(payURL, svc.Runtime.Codec(), nil)
	if target := svc.Config.PayGRPCTarget; target != "" {
		client, err := pay.NewGRPCClient(target, svc.Runtime.Codec())
		if err != nil {
			return nil, err
		}
		svc.OnClose(client.Close)
		payments = client
	}

	shopService := service.New(st, svc.Runtime, payments, coord, service.WithLogger(svc.Logger))

	r := svc.Router()
	handler.New(shopService, svc.Logger).Register(r)
	return r, nil
}
