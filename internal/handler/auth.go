package handler

import (
    "crypto/subtle"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/page-tracker/internal/config"
    "github.com/iliyamo/page-tracker/internal/utils"
)

// AdminRole is the role claim required by the admin routes.
const AdminRole = "ADMIN"

// AuthHandler issues admin access tokens for a single configured account.
type AuthHandler struct {
    Cfg config.AuthConfig
}

func NewAuthHandler(cfg config.AuthConfig) *AuthHandler { return &AuthHandler{Cfg: cfg} }

type tokenReq struct {
    Username string `json:"username"`
    Password string `json:"password"`
}

type tokenResp struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}

// Token: verify the admin credentials and return a short-lived access token.
func (h *AuthHandler) Token(c echo.Context) error {
    var req tokenReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Username = strings.TrimSpace(req.Username)
    if req.Username == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
    }

    userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.Cfg.AdminUser)) == 1
    passOK := utils.VerifyPassword(h.Cfg.AdminPasswordHash, req.Password)
    if !userOK || !passOK {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
    }

    tok, err := utils.NewAccessToken(h.Cfg.JWTSecret, req.Username, AdminRole, h.Cfg.AccessTTLMin)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
    }
    return c.JSON(http.StatusOK, tokenResp{Token: tok.Token, Expires: tok.Exp})
}
