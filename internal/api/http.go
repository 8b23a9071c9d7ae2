package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"

	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/api/handler"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/internal/api/router"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/middleware"
	"github.com/techninja0210-maker/UOB-track-home-backend-sub000/pkg/ratelimit"
)

func NewRouter(ctx context.Context, addr string, h *handler.Custody) *http.Server {
	// 限流
	store := ratelimit.NewStore(50, 100, 10*time.Minute) // 50 rps，突发 100
	store.StartJanitor(ctx, time.Minute)
	// 监控
	r := gin.New()
	p := ginprom.NewPrometheus("custody")
	p.Use(r)
	r.Use(
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(store),
	)
	api := r.Group("/api")
	router.Custody(api, h)
	s := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}
