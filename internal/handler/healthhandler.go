package handler

import (
	"net/http"
	"sort"

	"github.com/zeromicro/go-zero/rest/httpx"

	"coinwatch/internal/svc"
	"coinwatch/internal/types"
)

// HealthHandler reports adapter connectivity. The service is live as long
// as one source is up; 503 otherwise so load balancers can rotate traffic.
func HealthHandler(serverCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := types.HealthResp{
			Live:          serverCtx.Reconciler.Live(),
			PrimarySource: serverCtx.Reconciler.PrimarySource(),
			Sources:       make([]types.SourceHealth, 0, len(serverCtx.Adapters)),
		}
		for name, adapter := range serverCtx.Adapters {
			priority := 0
			if cfg, ok := serverCtx.FeedConfig.Sources[name]; ok {
				priority = cfg.Priority
			}
			resp.Sources = append(resp.Sources, types.SourceHealth{
				Name:       name,
				Source:     string(adapter.Source()),
				Priority:   priority,
				Connected:  adapter.Connected(),
				LastError:  adapter.LastError(),
				LastUpdate: serverCtx.Reconciler.LastSeen(adapter.Source()),
			})
		}
		sort.Slice(resp.Sources, func(i, j int) bool {
			return resp.Sources[i].Priority < resp.Sources[j].Priority
		})
		if !resp.Live {
			httpx.WriteJsonCtx(r.Context(), w, http.StatusServiceUnavailable, resp)
			return
		}
		httpx.OkJsonCtx(r.Context(), w, resp)
	}
}
