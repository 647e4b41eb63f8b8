package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest"

	"coinwatch/internal/svc"
)

// RegisterHandlers mounts the read-only price API.
func RegisterHandlers(server *rest.Server, serverCtx *svc.ServiceContext) {
	server.AddRoutes(
		[]rest.Route{
			{
				Method:  http.MethodGet,
				Path:    "/v1/prices",
				Handler: PricesHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/v1/price/:symbol",
				Handler: PriceHandler(serverCtx),
			},
			{
				Method:  http.MethodGet,
				Path:    "/v1/health",
				Handler: HealthHandler(serverCtx),
			},
		},
	)
}
