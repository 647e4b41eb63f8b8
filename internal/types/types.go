package types

import "coinwatch/pkg/reconcile"

type PriceReq struct {
	Symbol string `path:"symbol"`
}

type PricesResp struct {
	Timestamp int64                   `json:"timestamp"`
	Data      []reconcile.SymbolState `json:"data"`
}

type SourceHealth struct {
	Name       string `json:"name"`
	Source     string `json:"source"`
	Priority   int    `json:"priority"`
	Connected  bool   `json:"connected"`
	LastError  string `json:"last_error,omitempty"`
	LastUpdate int64  `json:"last_update,omitempty"`
}

type HealthResp struct {
	Live          bool           `json:"live"`
	PrimarySource string         `json:"primary_source,omitempty"`
	Sources       []SourceHealth `json:"sources"`
}
