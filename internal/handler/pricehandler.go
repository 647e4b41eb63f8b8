package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/rest/httpx"

	"coinwatch/internal/svc"
	"coinwatch/internal/types"
)

// PriceHandler serves one symbol's reconciled state. Symbols no source has
// ever reported return 404; the API never fabricates a price.
func PriceHandler(serverCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.PriceReq
		if err := httpx.Parse(r, &req); err != nil {
			httpx.ErrorCtx(r.Context(), w, err)
			return
		}
		symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
		state, ok := serverCtx.Reconciler.Snapshot(symbol)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, state)
	}
}

// PricesHandler serves the full reconciled snapshot.
func PricesHandler(serverCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := types.PricesResp{
			Timestamp: time.Now().UTC().UnixMilli(),
			Data:      serverCtx.Reconciler.SnapshotAll(),
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}
