package service

import (
	"strings"

	"github.com/spec-kit/ticket-bot/internal/auth"
	"github.com/spec-kit/ticket-bot/internal/domain"
	apperrors "github.com/spec-kit/ticket-bot/pkg/errorutil"
)

// AuthService mints admin API tokens. There are no password accounts: an operator
// with shell access mints a token for a named subject.
type AuthService struct {
	tokenMgr *auth.TokenManager
}

// NewAuthService builds the service.
func NewAuthService(tokens *auth.TokenManager) *AuthService {
	return &AuthService{tokenMgr: tokens}
}

// MintAdminToken issues a signed admin token for subjectID.
func (s *AuthService) MintAdminToken(subjectID string) (string, domain.AdminToken, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", domain.AdminToken{}, apperrors.NewValidationError("token subject is required", nil)
	}
	token, meta, err := s.tokenMgr.GenerateToken(subjectID)
	if err != nil {
		return "", domain.AdminToken{}, apperrors.NewInternalError(err)
	}
	return token, meta, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
