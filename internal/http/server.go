package http

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/studiolink/smshub/internal/config"
	"github.com/studiolink/smshub/internal/dispatcher"
	"github.com/studiolink/smshub/internal/http/middleware"
	"github.com/studiolink/smshub/internal/metrics"
	"github.com/studiolink/smshub/internal/repository"
	"go.uber.org/zap"
)

// Deps are the services behind the routes. Redis and Reports may be nil.
type Deps struct {
	Inbound       InboundProcessor
	Welcome       Welcomer
	Sweeper       Sweeper
	Sender        dispatcher.Sender
	Conversations Conversations
	Studios       repository.StudiosRepository
	Reports       repository.CHMessagesRepository
	Redis         redis.Cmdable
	Log           *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(logLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// provider and CRM callbacks
	wh := e.Group("/webhooks")
	wh.POST("/twilio/sms", twilioSMSHandler(d.Inbound, d.Log))
	wh.POST("/twilio/voice", twilioVoiceHandler(d.Studios, d.Log))
	wh.POST("/ringcentral/sms", ringCentralSMSHandler(d.Inbound, d.Log))
	wh.POST("/zoho/welcome", zohoWelcomeHandler(d.Welcome, d.Log))

	e.GET("/cron/follow-ups", cronFollowUpsHandler(d.Sweeper, d.Log),
		middleware.CronAuth(cfg.Cron.Secret, cfg.Cron.RequireAuth))

	authMW := middleware.BearerAuth(cfg.API.Tokens)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "smshub:rl:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/messages/send", sendMessageHandler(d.Sender))
	v1.GET("/conversations", conversationHandler(d.Conversations))
	if d.Reports != nil {
		v1.GET("/reports/messages", listMessagesHandler(d.Reports))
	}

	return &Server{e: e, log: d.Log}
}

func logLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
