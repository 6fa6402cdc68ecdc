package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"anpr-stream/internal/config"
	"anpr-stream/internal/domain/anpr"
	"anpr-stream/internal/http/middleware"
	"anpr-stream/internal/pipeline"
	"anpr-stream/internal/service"
)

const maxHistoryLimit = 500

// LiveFeed is the running frame pipeline as seen by the stream endpoints.
type LiveFeed interface {
	RecentPlates() []anpr.RecentPlate
	Stats() pipeline.Stats
}

type Handler struct {
	detections *service.DetectionService
	plates     *service.PlateService
	users      *service.UserService
	live       LiveFeed
	video      http.Handler
	config     *config.Config
	log        zerolog.Logger

	statusMu      sync.RWMutex
	statusSources map[string]func() interface{}
}

func NewHandler(
	detections *service.DetectionService,
	plates *service.PlateService,
	users *service.UserService,
	live LiveFeed,
	video http.Handler,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		detections:    detections,
		plates:        plates,
		users:         users,
		live:          live,
		video:         video,
		config:        cfg,
		log:           log.With().Str("component", "http").Logger(),
		statusSources: map[string]func() interface{}{},
	}
}

// AddStatus registers a component reported by GET /stream/status under name.
func (h *Handler) AddStatus(name string, fn func() interface{}) {
	h.statusMu.Lock()
	defer h.statusMu.Unlock()
	h.statusSources[name] = fn
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// The viewer loads the feed from an <img> tag and polls the JSON
	// endpoints without credentials.
	stream := r.Group("/stream")
	{
		stream.GET("/video_feed", gin.WrapH(h.video))
		stream.GET("/plates", h.latestPlates)
		stream.GET("/latest-detection", h.latestDetection)
		stream.GET("/detections-history", h.detectionsHistory)
		stream.GET("/status", h.status)
	}

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.GET("/me", authMiddleware, h.me)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/plates", h.listPlates)
		protected.POST("/plates", h.createPlate)
		protected.PUT("/plates/:id", h.updatePlate)
		protected.DELETE("/plates/:id", middleware.RequireAdmin(), h.deletePlate)

		protected.GET("/detections", h.listDetections)
		protected.GET("/detections/stats", h.detectionStats)
		protected.GET("/detections/blacklisted", h.blacklistedDetections)
		protected.GET("/detections/export", h.exportDetections)
	}
}

func (h *Handler) latestPlates(c *gin.Context) {
	plates := h.live.RecentPlates()
	c.JSON(http.StatusOK, gin.H{
		"plates": plates,
		"count":  len(plates),
	})
}

func (h *Handler) latestDetection(c *gin.Context) {
	detection, err := h.detections.LatestDetection(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to fetch latest detection")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":   false,
			"detection": nil,
			"error":     "internal error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"detection": detection,
	})
}

func (h *Handler) detectionsHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("limit must be a positive integer"))
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	detections, err := h.detections.History(c.Request.Context(), limit, strings.TrimSpace(c.Query("search")))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to fetch detection history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":    false,
			"detections": []anpr.DetectionView{},
			"error":      "internal error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"detections": detections,
		"count":      len(detections),
	})
}

func (h *Handler) status(c *gin.Context) {
	status := gin.H{
		"pipeline":      h.live.Stats(),
		"recent_plates": len(h.live.RecentPlates()),
	}

	h.statusMu.RLock()
	for name, fn := range h.statusSources {
		status[name] = fn()
	}
	h.statusMu.RUnlock()

	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) register(c *gin.Context) {
	var in service.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	user, err := h.users.Register(c.Request.Context(), in)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// login accepts JSON or an OAuth2-style form body.
func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" form:"username" binding:"required"`
		Password string `json:"password" form:"password" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	res, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, res.AccessToken, int(h.config.Auth.CookieMaxAge/time.Second), "/", "", false, false)

	h.log.Info().Str("username", res.User.Username).Msg("user logged in")
	c.JSON(http.StatusOK, res)
}

func (h *Handler) me(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}
	user, err := h.users.Me(c.Request.Context(), principal.UserID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) listPlates(c *gin.Context) {
	plates, err := h.plates.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(plates))
}

type plateRequest struct {
	PlateText       string  `json:"plate_text" binding:"required"`
	Province        *string `json:"province"`
	VehicleType     *string `json:"vehicle_type"`
	OwnerName       *string `json:"owner_name"`
	IsBlacklisted   bool    `json:"is_blacklisted"`
	BlacklistReason *string `json:"blacklist_reason"`
}

func (h *Handler) createPlate(c *gin.Context) {
	var req plateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	plate, err := h.plates.Create(c.Request.Context(), anpr.Plate{
		PlateText:       req.PlateText,
		Province:        req.Province,
		VehicleType:     req.VehicleType,
		OwnerName:       req.OwnerName,
		IsBlacklisted:   req.IsBlacklisted,
		BlacklistReason: req.BlacklistReason,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(plate))
}

func (h *Handler) updatePlate(c *gin.Context) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}

	var upd anpr.PlateUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	plate, err := h.plates.Update(c.Request.Context(), id, upd)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(plate))
}

func (h *Handler) deletePlate(c *gin.Context) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	if err := h.plates.Delete(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) listDetections(c *gin.Context) {
	filter, ok := parseDetectionFilter(c)
	if !ok {
		return
	}
	detections, err := h.detections.Find(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(detections))
}

func (h *Handler) detectionStats(c *gin.Context) {
	stats, err := h.detections.Stats(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) blacklistedDetections(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid limit"))
		return
	}
	detections, err := h.detections.Blacklisted(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(detections))
}

func (h *Handler) exportDetections(c *gin.Context) {
	filter, ok := parseDetectionFilter(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	rows, err := h.detections.ExportXLSX(c.Request.Context(), filter, &buf)
	if err != nil {
		h.handleError(c, err)
		return
	}

	filename := fmt.Sprintf("detections_%s.xlsx", time.Now().Format("20060102_150405"))
	h.log.Info().Int("rows", rows).Str("filename", filename).Msg("exported detections")

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func parseDetectionFilter(c *gin.Context) (anpr.DetectionFilter, bool) {
	filter := anpr.DetectionFilter{
		Search:          strings.TrimSpace(c.Query("search")),
		VerifiedOnly:    c.Query("verified") == "true",
		BlacklistedOnly: c.Query("blacklisted") == "true",
	}

	limit, err := queryInt(c, "limit", 0)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid limit"))
		return filter, false
	}
	filter.Limit = limit

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		raw := strings.TrimSpace(c.Query(p.name))
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("invalid %s time format", p.name)))
			return filter, false
		}
		*p.dst = &t
	}
	return filter, true
}

func pathUUID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrInvalidPlate):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
