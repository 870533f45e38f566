package types

import (
	"github.com/valyala/fasthttp"
)

type FastHTTPHandler func(ctx *fasthttp.RequestCtx)

type HTTPServer interface {
	LifecycleManager
}

// Source tags carried in list response metadata.
const (
	SourceDatabase   = "database"
	SourceCache      = "cache"
	SourceCacheStale = "cache-stale"
)

type ListMeta struct {
	Total      int64  `json:"total"`
	Count      int    `json:"count"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
	Source     string `json:"source"`
}

type ListResponse struct {
	Success bool                     `json:"success"`
	Data    []map[string]interface{} `json:"data"`
	Meta    *ListMeta                `json:"meta"`
	Stale   bool                     `json:"stale,omitempty"`
	Cache   *StaleInfo               `json:"cache,omitempty"`
	Warning string                   `json:"warning,omitempty"`
}

type StaleInfo struct {
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
	Expired   bool   `json:"expired"`
}
