package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nbarakat/ledger-service/internal/config"
	"github.com/nbarakat/ledger-service/internal/ledger"
)

func NewRouter(eng *ledger.Engine, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, eng)
	return r
}
