package client

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clinicvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityFromToken reads the UserID claim without verifying the signature.
// The server verifies every request; the client only needs to know whom it
// is acting for, e.g. for the pairing ownership check.
func IdentityFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	id, _ := claims["UserID"].(string)
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: no UserID claim", common.ErrInvalidToken)
	}
	return id, nil
}
