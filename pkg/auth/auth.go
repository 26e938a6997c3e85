// Package auth validates bearer tokens and resolves the request
// identity. Token issuance and rotation live outside the substrate;
// this package only verifies.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// Auth modes.
const (
	ModeJWT      = "jwt"
	ModeDisabled = "disabled"
)

// ErrUnauthorized covers every token failure; callers map it to 401
// without detail to avoid oracle behavior.
var ErrUnauthorized = errors.New("unauthorized")

// Claims is the expected token payload: sub carries the agent id,
// owner_id the tenant, roles the capability set.
type Claims struct {
	OwnerID string   `json:"owner_id"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// Config selects the verification mode.
type Config struct {
	Mode          string
	PublicKeyPath string
	HS256Secret   string

	// Dev-mode identity used when Mode is disabled.
	DevOwnerID string
	DevAgentID string
}

// LoadConfigFromEnv reads the auth configuration.
func LoadConfigFromEnv() Config {
	mode := os.Getenv("AUTH_MODE")
	if mode == "" {
		mode = ModeJWT
	}
	return Config{
		Mode:          mode,
		PublicKeyPath: os.Getenv("JWT_PUBLIC_KEY_PATH"),
		HS256Secret:   os.Getenv("JWT_HS256_SECRET"),
		DevOwnerID:    os.Getenv("OWNER_ID"),
		DevAgentID:    os.Getenv("AGENT_ID"),
	}
}

// Authenticator verifies bearer tokens. The signing algorithm is
// pinned by configuration; a token carrying any other method fails.
type Authenticator struct {
	mode        string
	publicKey   *rsa.PublicKey
	hs256Secret []byte
	devIdentity models.Identity
}

// NewAuthenticator builds the verifier for the configured mode.
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	switch cfg.Mode {
	case ModeDisabled:
		if cfg.DevOwnerID == "" || cfg.DevAgentID == "" {
			return nil, fmt.Errorf("disabled auth mode requires OWNER_ID and AGENT_ID")
		}
		return &Authenticator{
			mode: ModeDisabled,
			devIdentity: models.Identity{
				OwnerID: cfg.DevOwnerID,
				AgentID: cfg.DevAgentID,
				Roles:   []string{models.RoleEmitter, models.RoleSubscriber, models.RoleCurator},
			},
		}, nil

	case ModeJWT:
		a := &Authenticator{mode: ModeJWT}
		switch {
		case cfg.PublicKeyPath != "":
			pem, err := os.ReadFile(cfg.PublicKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read JWT public key: %w", err)
			}
			key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
			if err != nil {
				return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
			}
			a.publicKey = key
		case cfg.HS256Secret != "":
			a.hs256Secret = []byte(cfg.HS256Secret)
		default:
			return nil, fmt.Errorf("jwt auth mode requires JWT_PUBLIC_KEY_PATH or JWT_HS256_SECRET")
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// Authenticate resolves the identity from an Authorization header
// value ("Bearer <token>").
func (a *Authenticator) Authenticate(authorization string) (models.Identity, error) {
	if a.mode == ModeDisabled {
		return a.devIdentity, nil
	}

	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return models.Identity{}, ErrUnauthorized
	}
	return a.verify(token)
}

func (a *Authenticator) verify(token string) (models.Identity, error) {
	var (
		claims  Claims
		keyfunc jwt.Keyfunc
		methods []string
	)
	if a.publicKey != nil {
		keyfunc = func(*jwt.Token) (any, error) { return a.publicKey, nil }
		methods = []string{"RS256"}
	} else {
		keyfunc = func(*jwt.Token) (any, error) { return a.hs256Secret, nil }
		methods = []string{"HS256"}
	}

	parsed, err := jwt.ParseWithClaims(token, &claims, keyfunc, jwt.WithValidMethods(methods))
	if err != nil || !parsed.Valid {
		return models.Identity{}, ErrUnauthorized
	}
	if claims.Subject == "" || claims.OwnerID == "" {
		return models.Identity{}, ErrUnauthorized
	}

	return models.Identity{
		OwnerID: claims.OwnerID,
		AgentID: claims.Subject,
		Roles:   claims.Roles,
	}, nil
}
