package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/postika/auth/internal/domain"
	"github.com/postika/auth/internal/http/middleware"
	"github.com/postika/auth/internal/service"
)

// AuthHandler exposes the account endpoints.
type AuthHandler struct {
	Auth *service.AuthService
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

type registerRequest struct {
	Email                string `json:"email" binding:"required,email"`
	FirstName            string `json:"first_name" binding:"required,max=50"`
	LastName             string `json:"last_name" binding:"required,max=50"`
	CountryCode          string `json:"country_code" binding:"required,max=5"`
	PhoneNumber          string `json:"phone_number" binding:"required,max=20"`
	Password             string `json:"password"`
	Tier                 string `json:"tier"`
	ReferralCode         string `json:"referral_code"`
	AcceptsNotifications *bool  `json:"accepts_notifications"`
	AcceptedTerms        bool   `json:"accepted_terms"`
}

// Register creates a new account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "error_description": "Invalid registration payload."})
		return
	}

	acceptsNotifications := true
	if req.AcceptsNotifications != nil {
		acceptsNotifications = *req.AcceptsNotifications
	}

	user, err := h.Auth.Register(c.Request.Context(), service.RegisterInput{
		Email:                req.Email,
		FirstName:            req.FirstName,
		LastName:             req.LastName,
		CountryCode:          req.CountryCode,
		PhoneNumber:          req.PhoneNumber,
		Password:             req.Password,
		Tier:                 domain.Tier(req.Tier),
		ReferralCode:         req.ReferralCode,
		AcceptsNotifications: acceptsNotifications,
		AcceptedTerms:        req.AcceptedTerms,
	})
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, service.NewUserView(user))
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies credentials and returns a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "error_description": "Invalid login payload."})
		return
	}

	resp, _, err := h.Auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		respondAuthError(c, domain.ErrUnauthenticated())
		return
	}
	c.JSON(http.StatusOK, service.NewUserView(user))
}

// RequestVerification issues a fresh email verification code.
func (h *AuthHandler) RequestVerification(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		respondAuthError(c, domain.ErrUnauthenticated())
		return
	}
	if err := h.Auth.RequestEmailVerification(c.Request.Context(), user); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "verification code sent"})
}

type confirmVerificationRequest struct {
	Code string `json:"code" binding:"required,len=6"`
}

// ConfirmVerification redeems a delivered verification code.
func (h *AuthHandler) ConfirmVerification(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		respondAuthError(c, domain.ErrUnauthenticated())
		return
	}
	var req confirmVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.CodeInvalidRequest, "error_description": "Invalid verification payload."})
		return
	}
	if err := h.Auth.ConfirmEmailVerification(c.Request.Context(), user, req.Code); err != nil {
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "email verified"})
}

// respondAuthError is the only place error kinds become status codes.
func respondAuthError(c *gin.Context, err error) {
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		c.JSON(ae.Status, gin.H{"error": ae.Code, "error_description": ae.Description})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
}
