package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/impulselabs/impulse/internal/bus"
	"github.com/impulselabs/impulse/internal/fault"
	"github.com/impulselabs/impulse/internal/impulse"
	"github.com/impulselabs/impulse/internal/request"
)

const identityContextKey = "impulse_identity"

var (
	errMissingImpulseService = errors.New("impulse service dependency required")
	errMissingRequestLedger  = errors.New("request ledger dependency required")
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingBus            = errors.New("event bus dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a session token and returns the identity it carries.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	Impulses *impulse.Service
	Requests *request.Ledger
	Tokens   TokenValidator
	Bus      bus.Bus
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Impulses == nil {
		return nil, errMissingImpulseService
	}
	if deps.Requests == nil {
		return nil, errMissingRequestLedger
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Bus == nil {
		return nil, errMissingBus
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		impulses: deps.Impulses,
		requests: deps.Requests,
		tokens:   deps.Tokens,
		bus:      deps.Bus,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/impulses", handler.handleCreateImpulse)
	protected.GET("/impulses", handler.handleListImpulses)
	protected.DELETE("/impulses/:id", handler.handleDeleteImpulse)
	protected.POST("/impulses/:id/join", handler.handleJoin)
	protected.GET("/impulses/:id/status", handler.handleJoinStatus)
	protected.POST("/requests/:id/resolve", handler.handleResolve)
	protected.GET("/events/stream", handler.handleEventStream)
	protected.GET("/events/ws", handler.handleEventSocket)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	impulses *impulse.Service
	requests *request.Ledger
	tokens   TokenValidator
	bus      bus.Bus
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createImpulsePayload struct {
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	VenueID *string `json:"venue_id"`
	IsGhost bool    `json:"is_ghost"`
}

func (h *httpHandler) handleCreateImpulse(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	var payload createImpulsePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.impulses.Create(c.Request.Context(), impulse.CreateInput{
		Owner:   identity,
		Message: payload.Message,
		Lat:     payload.Lat,
		Lng:     payload.Lng,
		VenueID: payload.VenueID,
		IsGhost: payload.IsGhost,
	})
	if err != nil {
		h.writeFault(c, err)
		return
	}

	c.JSON(http.StatusCreated, impulse.NewView(*created))
}

func (h *httpHandler) handleListImpulses(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	records, err := h.impulses.List(c.Request.Context(), identity)
	if err != nil {
		h.writeFault(c, err)
		return
	}

	views := make([]impulse.View, 0, len(records))
	for _, record := range records {
		views = append(views, impulse.NewView(record))
	}
	c.JSON(http.StatusOK, gin.H{"impulses": views})
}

func (h *httpHandler) handleDeleteImpulse(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	if err := h.impulses.Delete(c.Request.Context(), c.Param("id"), identity); err != nil {
		h.writeFault(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleJoin(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	record, err := h.requests.Join(c.Request.Context(), c.Param("id"), identity)
	if err != nil {
		h.writeFault(c, err)
		return
	}
	c.JSON(http.StatusOK, request.NewView(*record))
}

func (h *httpHandler) handleJoinStatus(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	status, err := h.requests.StatusFor(c.Request.Context(), c.Param("id"), identity)
	if err != nil {
		h.writeFault(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"impulse_id": c.Param("id"), "status": status})
}

type resolvePayload struct {
	Decision string `json:"decision"`
}

func (h *httpHandler) handleResolve(c *gin.Context) {
	identity := c.GetString(identityContextKey)

	var payload resolvePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.requests.Resolve(c.Request.Context(), c.Param("id"), identity, payload.Decision)
	if err != nil {
		h.writeFault(c, err)
		return
	}
	c.JSON(http.StatusOK, request.NewView(*record))
}

// authorizeRequest accepts the session token from the Authorization header
// or, for EventSource and websocket clients that cannot set headers, from
// the access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	identity, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityContextKey, identity)
	c.Next()
}

func (h *httpHandler) writeFault(c *gin.Context, err error) {
	status := statusForKind(fault.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}

	code := "internal_error"
	var classified *fault.Error
	if errors.As(err, &classified) {
		code = classified.Code()
	}
	c.JSON(status, gin.H{"error": code})
}

func statusForKind(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return http.StatusBadRequest
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindPermission, fault.KindSelfJoin:
		return http.StatusForbidden
	case fault.KindInvalidState:
		return http.StatusConflict
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
