package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"snapaid/internal/apperr"
	"snapaid/internal/auth"
	"snapaid/internal/logging"
	"snapaid/internal/models"
	"snapaid/internal/service/cases"
	"snapaid/internal/service/profiles"
	"snapaid/internal/service/triage"
)

// Deps are the services behind the HTTP routes. Auth, Webhook and Quiz are optional.
type Deps struct {
	Cases    *cases.Service
	Triage   *triage.Recorder
	Profiles *profiles.Service
	// Auth guards the /api routes when set.
	Auth *auth.Service
	// Webhook verifies identity provider deliveries; without it they are rejected.
	Webhook       *auth.WebhookVerifier
	Quiz          QuizProxy
	FileBaseDir   string
	FilePublicURL string
}

// Handler wires HTTP routes to the case, triage and profile services.
type Handler struct {
	cases    *cases.Service
	triage   *triage.Recorder
	profiles *profiles.Service
	auth     *auth.Service
	webhook  *auth.WebhookVerifier
	quiz     QuizProxy
	fileBase string
	fileURL  string
	logger   *slog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	return &Handler{
		cases:    d.Cases,
		triage:   d.Triage,
		profiles: d.Profiles,
		auth:     d.Auth,
		webhook:  d.Webhook,
		quiz:     d.Quiz,
		fileBase: d.FileBaseDir,
		fileURL:  strings.TrimRight(d.FilePublicURL, "/"),
		logger:   logging.New("api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)
	if h.fileBase != "" {
		router.Static("/files", h.fileBase)
	}

	api := router.Group("/api")
	// called by third parties that sign or scope their own requests
	api.POST("/webhooks/identity", h.identityWebhook)
	voice := api.Group("/voice", wildcardOrigin, voiceCORS())
	voice.POST("/function", h.voiceFunction)
	voice.OPTIONS("/function", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	protected := api.Group("")
	if h.auth != nil {
		protected.Use(h.auth.Middleware())
	}
	protected.POST("/cases", h.createCase)
	protected.GET("/cases", h.listCases)
	protected.GET("/case", h.getCase)
	protected.PUT("/case/status", h.updateCaseStatus)
	protected.POST("/case/conversation", h.replaceConversation)
	protected.PUT("/case/conversation", h.appendConversation)
	protected.POST("/case/reclassify", h.reclassifyCase)
	protected.POST("/triage", h.createTriage)
	protected.PUT("/triage", h.updateTriage)
	protected.GET("/triage", h.getTriage)
	protected.GET("/profile", h.getProfile)
	protected.PUT("/profile", h.updateProfile)
	protected.POST("/upload", h.uploadFile)
	protected.POST("/quiz", h.submitQuiz)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps service errors onto status codes. Storage failures are
// logged and reported with the generic fallback message only.
func (h *Handler) respondError(c *gin.Context, err error, notFound, fallback string) {
	switch {
	case apperr.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	case apperr.IsClassification(err):
		h.logger.Error("classification failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "classification failed"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// Cases

func (h *Handler) createCase(c *gin.Context) {
	var req cases.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		if userID, ok := auth.UserIDFromContext(c); ok {
			req.UserID = userID
		}
	}
	created, err := h.cases.Create(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err, "case not found", "failed to create case")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Case created successfully", "data": created})
}

func (h *Handler) listCases(c *gin.Context) {
	list, err := h.cases.List(c.Request.Context(), c.Query("userid"))
	if err != nil {
		h.respondError(c, err, "cases not found", "failed to fetch cases")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *Handler) getCase(c *gin.Context) {
	caseID := strings.TrimSpace(c.Query("caseid"))
	if caseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Case ID is required"})
		return
	}
	if c.Query("include") == "triage" {
		found, tri, err := h.cases.GetWithTriage(c.Request.Context(), caseID)
		if err != nil {
			h.respondError(c, err, "case not found", "failed to fetch case")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": found, "triage": tri})
		return
	}
	found, err := h.cases.Get(c.Request.Context(), caseID)
	if err != nil {
		h.respondError(c, err, "case not found", "failed to fetch case")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": found})
}

type statusRequest struct {
	CaseID string `json:"case_id"`
	Status string `json:"status"`
}

func (h *Handler) updateCaseStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := h.cases.UpdateStatus(c.Request.Context(), req.CaseID, req.Status)
	if err != nil {
		h.respondError(c, err, "case not found", "failed to update case status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Case status updated successfully", "data": updated})
}

type replaceConversationRequest struct {
	CaseID              string           `json:"case_id"`
	ConversationHistory []models.Message `json:"conversation_history"`
}

func (h *Handler) replaceConversation(c *gin.Context) {
	var req replaceConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := h.cases.ReplaceConversation(c.Request.Context(), req.CaseID, req.ConversationHistory)
	if err != nil {
		h.respondError(c, err, "case not found", "failed to update chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat updated successfully", "data": updated})
}

type appendConversationRequest struct {
	CaseID   string           `json:"case_id"`
	Messages []models.Message `json:"messages"`
}

func (h *Handler) appendConversation(c *gin.Context) {
	var req appendConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := h.cases.AppendConversation(c.Request.Context(), req.CaseID, req.Messages)
	if err != nil {
		h.respondError(c, err, "case not found", "failed to update chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat updated successfully", "data": updated})
}

type caseRef struct {
	CaseID string `json:"case_id"`
}

func (h *Handler) reclassifyCase(c *gin.Context) {
	var req caseRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	tri, err := h.cases.Reclassify(c.Request.Context(), req.CaseID)
	if err != nil {
		h.respondError(c, err, "case not found", "failed to reclassify case")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Case reclassified successfully", "data": tri})
}

// Triage

type triageRequest struct {
	CaseID string `json:"case_id"`
	triage.Fields
}

func (h *Handler) createTriage(c *gin.Context) {
	var req triageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := h.triage.Create(c.Request.Context(), req.CaseID, req.Fields)
	if err != nil {
		h.respondError(c, err, "case not found", "failed to create triage")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Triage created successfully", "data": created})
}

func (h *Handler) updateTriage(c *gin.Context) {
	var req triageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := h.triage.Update(c.Request.Context(), req.CaseID, req.Fields)
	if err != nil {
		h.respondError(c, err, "triage not found", "failed to update triage")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Triage updated successfully", "data": updated})
}

func (h *Handler) getTriage(c *gin.Context) {
	caseID := strings.TrimSpace(c.Query("caseid"))
	if caseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Case ID is required"})
		return
	}
	tri, err := h.triage.Get(c.Request.Context(), caseID)
	if err != nil {
		h.respondError(c, err, "triage not found", "failed to fetch triage")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tri})
}

// Profiles

func (h *Handler) getProfile(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userid"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	}
	p, err := h.profiles.Get(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err, "profile not found", "failed to fetch profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

type profileRequest struct {
	UserID string `json:"user_id"`
	profiles.Update
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := h.profiles.UpdateDetails(c.Request.Context(), req.UserID, req.Update)
	if err != nil {
		h.respondError(c, err, "profile not found", "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}
