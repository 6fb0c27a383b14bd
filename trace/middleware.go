package trace

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// GinMiddleware 为每个请求创建 server span，skipPaths 中的路径（探活、抓取）不追踪
func GinMiddleware(serviceName string, skipPaths ...string) gin.HandlerFunc {
	if len(skipPaths) == 0 {
		return otelgin.Middleware(serviceName)
	}
	skip := slices.Clone(skipPaths)
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return !slices.Contains(skip, r.URL.Path)
	}))
}
