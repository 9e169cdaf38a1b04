package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/bakery-payway/internal/auth"
	"github.com/noah-isme/bakery-payway/internal/common"
	"github.com/noah-isme/bakery-payway/internal/health"
	"github.com/noah-isme/bakery-payway/internal/obs"
	"github.com/noah-isme/bakery-payway/internal/order"
	"github.com/noah-isme/bakery-payway/internal/payment"
	"github.com/noah-isme/bakery-payway/internal/ratelimit"
	"github.com/noah-isme/bakery-payway/internal/security"
)

const maxRequestBody = 1 << 20

// PaymentHandler assembles the PayWay handler from configuration and shared clients.
func PaymentHandler(d *Dependencies, validate *validator.Validate) *payment.Handler {
	cfg := d.Config
	logger := obs.Component(d.Logger, "payway")
	gateway := payment.GatewayFromConfig(cfg)
	signer := payment.RSASigner{Logger: logger}

	receiver := &payment.Receiver{
		Orders:         d.Orders,
		APIKey:         cfg.PayWay.APIKey,
		RequireHash:    cfg.PayWay.CallbackRequireHash,
		GuardCancelled: cfg.PayWay.CallbackGuardCanceled,
		ReplayTTL:      cfg.CallbackReplayTTL,
		Logger:         logger,
	}
	if d.Redis != nil {
		receiver.Replay = payment.RedisReplayGuard{Client: d.Redis}
	}
	if d.Events != nil {
		receiver.Events = d.Events
	}

	return &payment.Handler{
		Initiator: &payment.Initiator{
			Gateway: gateway,
			Signer:  signer,
			Orders:  d.Orders,
			Clock:   d.Clock,
			Logger:  logger,
		},
		Receiver: receiver,
		QR: &payment.QRClient{
			Gateway: gateway,
			Signer:  signer,
			HTTP:    payment.NewGatewayHTTPClient(cfg.PayWay.GatewayTimeout, logger),
			Logger:  logger,
		},
		Signer:        signer,
		PublicKey:     cfg.PayWay.PublicKey,
		ManualConfirm: cfg.PayWay.ManualConfirmEnabled,
		Validate:      validate,
		Logger:        logger,
	}
}

// NewRouter mounts every HTTP route of the service.
func NewRouter(d *Dependencies) http.Handler {
	cfg := d.Config
	validate := validator.New()

	payments := PaymentHandler(d, validate)
	orders := &order.Handler{Store: d.Orders, Validate: validate, Logger: obs.Component(d.Logger, "orders")}
	orderAdmin := &order.AdminHandler{Store: d.Orders, Logger: obs.Component(d.Logger, "orders")}
	if d.Events != nil {
		orders.Events = d.Events
		orderAdmin.Events = d.Events
	}

	var authMiddleware auth.Middleware
	if cfg.JWTSecret != "" {
		authMiddleware.Verifier = auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	} else {
		d.Logger.Warn().Msg("JWT_SECRET not set, admin routes are disabled")
	}

	var limiter ratelimit.Backend = ratelimit.NewMemoryStore()
	if d.Redis != nil {
		limiter = ratelimit.SlidingWindow{Client: d.Redis, Prefix: "ratelimit:"}
	}
	limit := func(route string) func(http.Handler) http.Handler {
		return ratelimit.Handler{
			Limiter: limiter,
			Config: ratelimit.Config{
				Key:    ratelimit.ByClientIP(route),
				Window: cfg.RateLimitWindow,
				Max:    cfg.RateLimitMax,
			},
			OnError: func(err error) {
				d.Logger.Warn().Err(err).Str("route", route).Msg("rate limiter unavailable")
			},
		}.Middleware
	}

	idem := common.Idem{TTL: cfg.IdempotencyTTL}
	if d.Redis != nil {
		idem.R = d.Redis
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(security.Headers{Enable: true, EnableHSTS: !cfg.IsDevelopment()}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit{Max: maxRequestBody}.Middleware)

	if d.HTTPMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      health.Probes{DB: d.DB, Redis: d.Redis},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.With(limit("checkout")).Post("/checkout", payments.Checkout)
	r.With(limit("payway_qr")).Post("/payway/qr", payments.GenerateQR)
	// Gateway pushes share a few source IPs; HMAC and the replay guard protect this route.
	r.Post("/callback", payments.Callback)
	r.With(limit("callback")).Get("/callback", payments.ManualCallback)
	r.Post("/signature", payments.Signature)
	r.Post("/signature/verify", payments.VerifySignature)

	r.Route("/orders", func(o chi.Router) {
		o.With(idem.Middleware).Post("/", orders.Create)
		o.With(authMiddleware.RequireAuth).Get("/", orders.List)
		o.Get("/{id}", orders.Get)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(authMiddleware.RequireAuth)
		admin.Use(auth.RequireRole(auth.RoleAdmin))
		admin.Patch("/orders/{id}/status", orderAdmin.PatchStatus)
	})

	return r
}
