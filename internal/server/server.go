package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"lnprox-router/internal/config"
	"lnprox-router/internal/logging"
	"lnprox-router/internal/models"
	"lnprox-router/internal/paygate"
	"lnprox-router/internal/provider"
	"lnprox-router/internal/provider/lightning"
	"lnprox-router/internal/router"
	"lnprox-router/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second

	headerChargeID   = "X-Lightning-Charge-Id"
	headerAmountSats = "X-Lightning-Amount-Sats"
)

type Server struct {
	cfg     config.Config
	router  *router.Router
	app     *echo.Echo
	address string
	log     *logrus.Entry
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, rt *router.Router) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.NewLogger("server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			})
			if v.Error != nil {
				entry.WithError(v.Error).Warn("request")
				return nil
			}
			entry.Info("request")
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:     cfg,
		router:  rt,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
		log:     log,
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the routed echo instance, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"addr":       s.address,
		"completion": s.cfg.Completion.URL,
		"wallet":     s.cfg.Settlement.URL,
		"models":     s.router.Models(),
	}).Info("starting server")

	// Payment timeout plus one propagation delay is the longest a handler can
	// legitimately run.
	writeTimeout := s.cfg.Payment.Timeout + s.cfg.Payment.PropagationDelay + 15*time.Second
	if s.cfg.Payment.Timeout == 0 {
		writeTimeout = 0
	}

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.log.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/v1/models", s.handleModels)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/completions", s.handleCompletions)
	s.app.POST("/v1/messages", s.handleClaudeMessages)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, translator.NewModelList(lightning.Name, s.router.Models()))
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	resp, modelInfo, err := s.router.Chat(c.Request().Context(), req.ToUnified())
	if err != nil {
		return toHTTPError(err)
	}
	if resp == nil {
		return emptyUpstreamResponse()
	}

	setPaymentHeaders(c, resp.Payment)
	return c.JSON(http.StatusOK, translator.FromUnifiedChat(modelInfo.ID, time.Now().Unix(), resp))
}

func (s *Server) handleCompletions(c echo.Context) error {
	var req translator.CompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	resp, modelInfo, err := s.router.Completion(c.Request().Context(), req.ToUnified())
	if err != nil {
		return toHTTPError(err)
	}
	if resp == nil {
		return emptyUpstreamResponse()
	}

	setPaymentHeaders(c, resp.Payment)
	return c.JSON(http.StatusOK, translator.FromUnifiedCompletion(modelInfo.ID, time.Now().Unix(), resp))
}

func (s *Server) handleClaudeMessages(c echo.Context) error {
	var req translator.ClaudeMessageRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	resp, modelInfo, err := s.router.Chat(c.Request().Context(), req.ToUnified())
	if err != nil {
		return toHTTPError(err)
	}
	if resp == nil {
		return emptyUpstreamResponse()
	}

	setPaymentHeaders(c, resp.Payment)
	return c.JSON(http.StatusOK, translator.FromUnifiedClaude(modelInfo.ID, resp))
}

func setPaymentHeaders(c echo.Context, payment *models.Payment) {
	if payment == nil {
		return
	}
	header := c.Response().Header()
	header.Set(headerChargeID, payment.ChargeID)
	if payment.AmountSats != nil {
		header.Set(headerAmountSats, strconv.FormatInt(*payment.AmountSats, 10))
	}
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = writeError(c, he.Code, fmt.Sprint(he.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

func emptyUpstreamResponse() error {
	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider returned an empty response",
		Type:    "upstream_error",
	}
}

// toHTTPError maps orchestrator and routing failures onto client-facing
// statuses. Payment failures surface as 402 so callers can tell an empty
// wallet from a broken upstream.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	var payErr *paygate.PaymentError
	if errors.As(err, &payErr) {
		return requestError{
			Status:  http.StatusPaymentRequired,
			Message: payErr.Error(),
			Type:    "payment_error",
			Code:    payErr.ChargeID,
		}
	}

	var protoErr *paygate.ProtocolError
	if errors.As(err, &protoErr) {
		return requestError{
			Status:  http.StatusBadGateway,
			Message: protoErr.Reason,
			Type:    "upstream_error",
		}
	}

	if errors.Is(err, provider.ErrUnknownModel) || errors.Is(err, provider.ErrUnsupportedOperation) {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return requestError{
			Status:  http.StatusGatewayTimeout,
			Message: "payment flow timed out",
			Type:    "timeout_error",
		}
	}

	return requestError{
		Status:  http.StatusBadGateway,
		Message: "upstream provider error",
		Type:    "upstream_error",
	}
}
