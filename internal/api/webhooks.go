package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"snapaid/internal/models"
	"snapaid/internal/service/cases"
	"snapaid/internal/service/profiles"
)

const (
	maxWebhookBytes = 1 << 20
	voiceUserID     = "voice-assistant"
)

type identityEvent struct {
	Type string       `json:"type"`
	Data identityUser `json:"data"`
}

type identityUser struct {
	ID             string  `json:"id"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	Username       *string `json:"username"`
	HasImage       bool    `json:"has_image"`
	ImageURL       string  `json:"image_url"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	PublicMetadata struct {
		Role string `json:"role"`
	} `json:"public_metadata"`
}

func (u identityUser) identity(role models.ProfileRole) profiles.Identity {
	var parts []string
	for _, p := range []*string{u.FirstName, u.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	id := profiles.Identity{
		UserID:   u.ID,
		Name:     strings.Join(parts, " "),
		Username: u.Username,
		Role:     role,
	}
	if len(u.EmailAddresses) > 0 && u.EmailAddresses[0].EmailAddress != "" {
		email := u.EmailAddresses[0].EmailAddress
		id.Email = &email
	}
	if u.HasImage && u.ImageURL != "" {
		image := u.ImageURL
		id.Image = &image
	}
	return id
}

// identityWebhook mirrors identity provider users into profiles.
func (h *Handler) identityWebhook(c *gin.Context) {
	if h.webhook == nil {
		h.logger.Error("identity webhook received but no signing secret is configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.String(http.StatusBadRequest, "Error verifying webhook")
		return
	}
	if err := h.webhook.Verify(payload, c.Request.Header); err != nil {
		h.logger.Warn("identity webhook rejected", "error", err)
		c.String(http.StatusBadRequest, "Error verifying webhook")
		return
	}
	var evt identityEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.String(http.StatusBadRequest, "Error verifying webhook")
		return
	}

	var role models.ProfileRole
	switch evt.Type {
	case "user.created":
		role = models.RolePatient
	case "user.updated":
		role = models.ProfileRole(evt.Data.PublicMetadata.Role)
		if role == "" {
			role = models.RolePatient
		}
	default:
		h.logger.Debug("identity webhook ignored", "type", evt.Type)
		c.String(http.StatusOK, "OK")
		return
	}
	if _, err := h.profiles.UpsertIdentity(c.Request.Context(), evt.Data.identity(role)); err != nil {
		// acknowledged anyway; the provider would otherwise redeliver forever
		h.logger.Error("identity webhook upsert failed", "type", evt.Type, "user_id", evt.Data.ID, "error", err)
	} else {
		h.logger.Info("identity synced", "type", evt.Type, "user_id", evt.Data.ID, "role", role)
	}
	c.String(http.StatusOK, "OK")
}

// wildcardOrigin sets the allow-origin header on every voice response. The
// cors middleware only answers requests that carry an Origin header, and the
// voice platform calls server to server without one.
func wildcardOrigin(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Next()
}

func voiceCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"*"},
	})
}

type voiceRequest struct {
	FunctionCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function_call"`
}

type raiseCaseArgs struct {
	Symptom  string `json:"symptom"`
	Duration string `json:"duration"`
	UserID   string `json:"user_id"`
}

// voiceFunction serves function calls made by the voice assistant.
func (h *Handler) voiceFunction(c *gin.Context) {
	var req voiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	switch req.FunctionCall.Name {
	case "raiseCase":
		var args raiseCaseArgs
		if len(req.FunctionCall.Arguments) > 0 {
			if err := json.Unmarshal(req.FunctionCall.Arguments, &args); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid function arguments"})
				return
			}
		}
		in := cases.CreateInput{UserID: args.UserID, InputText: voiceCaseText(args.Symptom, args.Duration)}
		if strings.TrimSpace(in.UserID) == "" {
			in.UserID = voiceUserID
		}
		if strings.TrimSpace(args.Symptom) == "" {
			in.InputText = ""
		}
		created, err := h.cases.Create(c.Request.Context(), in)
		if err != nil {
			h.respondError(c, err, "case not found", "failed to raise case")
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": gin.H{
			"message": fmt.Sprintf("Case raised successfully with ID: %s", created.ID),
		}})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown function"})
	}
}

func voiceCaseText(symptom, duration string) string {
	symptom = strings.TrimSpace(symptom)
	duration = strings.TrimSpace(duration)
	if duration == "" {
		return symptom
	}
	return fmt.Sprintf("%s (duration: %s)", symptom, duration)
}
