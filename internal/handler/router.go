package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendflow/internal/auth"
	"attendflow/internal/httpmiddleware"
	"attendflow/internal/logger"
)

// RouterOptions configures the middleware chain around the handlers.
type RouterOptions struct {
	Log            *zap.Logger
	AllowedOrigins []string
	Limiter        *httpmiddleware.TokenBucket
	Registry       *prometheus.Registry
}

// NewRouter mounts every route of h.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.RequestID())
	r.Use(logger.GinMiddleware(opts.Log))
	r.Use(httpmiddleware.CORS(opts.AllowedOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	if opts.Registry != nil {
		r.Use(requestMetrics(opts.Registry))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", h.Healthz)

	limit := func(key httpmiddleware.KeyFunc) gin.HandlerFunc {
		if opts.Limiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return opts.Limiter.GinMiddleware(key)
	}

	public := r.Group("/v1/auth", limit(ipKey))
	public.POST("/login", h.Login)
	public.POST("/refresh", h.Refresh)
	public.POST("/register", h.Register)
	public.POST("/forgot-password", h.ForgotPassword)

	v1 := r.Group("/v1", auth.Bearer(h.signer), limit(subjectKey))
	staff := auth.RequireRoles(auth.StaffRoles...)

	v1.GET("/students", h.ListStudents)
	v1.GET("/students/:id", h.GetStudent)
	v1.POST("/students", staff, h.CreateStudent)
	v1.POST("/students/reload", staff, h.Reload)
	v1.PUT("/students/:id/status", staff, h.SetStatus)
	v1.PATCH("/students/:id", staff, h.UpdateStudent)

	v1.GET("/summary", h.Summary)
	v1.GET("/summary/classes", h.ClassSummary)
	v1.GET("/reports/export", staff, h.Export)

	v1.POST("/notifications/absent", staff, h.NotifyAbsent)
	v1.POST("/notifications/:id", staff, h.NotifyRecord)

	v1.GET("/journal", auth.RequireRoles(auth.RoleAdmin, auth.RoleHOD), h.Journal)

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "not_found", "route not found")
	})
	return r
}

func ipKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

func subjectKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok && claims.Subject != "" {
		return "sub:" + claims.Subject
	}
	return ipKey(c)
}

func requestMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attendflow_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	reg.MustRegister(duration)

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
