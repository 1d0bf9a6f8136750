package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/practice-sem-2/quartier-chat-service/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = fmt.Errorf("%w: token is missing", ErrInvalidToken)
)

// UserClaims is the identity issued by the upstream auth service.
type UserClaims struct {
	jwt.RegisteredClaims
	QuartierID int64  `json:"quartier_id"`
	Nom        string `json:"nom"`
	Prenom     string `json:"prenom"`
	Email      string `json:"email"`
}

func (c *UserClaims) User() (*models.User, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: subject must be a positive user id", ErrInvalidToken)
	}
	if c.QuartierID <= 0 {
		return nil, fmt.Errorf("%w: quartier_id claim is required", ErrInvalidToken)
	}
	return &models.User{
		ID:         id,
		QuartierID: c.QuartierID,
		Nom:        c.Nom,
		Prenom:     c.Prenom,
		Email:      c.Email,
	}, nil
}

type Verifier interface {
	Verify(token string) (*models.User, error)
}

type VerifierService struct {
	key     interface{}
	methods []string
}

// NewVerifierFromFile verifies RS256 tokens against a PEM encoded public key.
func NewVerifierFromFile(path string) (*VerifierService, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewVerifier(raw)
}

func NewVerifier(publicKeyPEM []byte) (*VerifierService, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return newVerifier(key, jwt.SigningMethodRS256.Alg()), nil
}

// NewHMACVerifier verifies HS256 tokens signed with a shared secret.
func NewHMACVerifier(secret []byte) *VerifierService {
	return newVerifier(secret, jwt.SigningMethodHS256.Alg())
}

func newVerifier(key interface{}, methods ...string) *VerifierService {
	return &VerifierService{key: key, methods: methods}
}

func (v *VerifierService) Verify(token string) (*models.User, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.User()
}

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the "token" query parameter that browsers use for WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return r.URL.Query().Get("token")
}
