package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dhoini/humanizer-billing/pkg/logger"
	"github.com/Dhoini/humanizer-billing/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextUserIDKey ключ для хранения ID пользователя в контексте (используется HTTP middleware и gRPC interceptor).
	ContextUserIDKey    ContextKey = "userID"
	ContextUserEmailKey ContextKey = "userEmail"

	authHeaderPrefix  = "Bearer "
	DefaultCookieName = "sb-access-token"
)

var (
	ErrMissingToken = errors.New("missing authorization token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims полезная нагрузка access-токена Supabase.
type TokenClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type JWTMiddleware struct {
	validator  TokenValidator
	cookieName string
	log        *logger.Logger
}

func NewJWTMiddleware(validator TokenValidator, cookieName string, log *logger.Logger) *JWTMiddleware {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTMiddleware{
		validator:  validator,
		cookieName: cookieName,
		log:        log,
	}
}

// RequireAuth пропускает только запросы с валидным токеном в заголовке Authorization или в cookie.
func (m *JWTMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := m.authenticate(c)
		if err != nil {
			m.handleAuthError(c, err)
			return
		}
		m.setIdentity(c, claims)
		c.Next()
	}
}

// OptionalAuth проставляет пользователя, если токен валиден. Отсутствующий
// или невалидный токен не прерывает запрос.
func (m *JWTMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := m.authenticate(c)
		if err == nil {
			m.setIdentity(c, claims)
		} else if !errors.Is(err, ErrMissingToken) {
			m.log.Debugw("Ignoring invalid optional token", "path", c.Request.URL.Path, "error", err)
		}
		c.Next()
	}
}

func (m *JWTMiddleware) authenticate(c *gin.Context) (*TokenClaims, error) {
	tokenString := m.tokenFromRequest(c)
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims, err := m.validator.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: user ID (sub) missing in token", ErrInvalidToken)
	}
	return claims, nil
}

func (m *JWTMiddleware) tokenFromRequest(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if strings.HasPrefix(authHeader, authHeaderPrefix) {
			return strings.TrimSpace(strings.TrimPrefix(authHeader, authHeaderPrefix))
		}
		return ""
	}
	if cookie, err := c.Cookie(m.cookieName); err == nil {
		return cookie
	}
	return ""
}

func (m *JWTMiddleware) setIdentity(c *gin.Context, claims *TokenClaims) {
	c.Set(string(ContextUserIDKey), claims.Subject)
	c.Set(string(ContextUserEmailKey), claims.Email)
	m.log.Debugw("User authenticated via HTTP", "userID", claims.Subject)
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, err error) {
	m.log.Warnw("HTTP Authentication failed", "path", c.Request.URL.Path, "error", err)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     "Unauthorized",
		ErrorCode: http.StatusUnauthorized,
		Details:   err.Error(),
	}, http.StatusUnauthorized)
	c.Abort()
}

// UserID возвращает ID пользователя, проставленный middleware.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(string(ContextUserIDKey))
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// UserEmail возвращает email из токена, если он был.
func UserEmail(c *gin.Context) string {
	return c.GetString(string(ContextUserEmailKey))
}

// SupabaseTokenValidator проверяет HS256 access-токены Supabase общим секретом проекта.
type SupabaseTokenValidator struct {
	Secret []byte
}

func (v *SupabaseTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: malformed token", ErrInvalidToken)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: invalid token signature", ErrInvalidToken)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, fmt.Errorf("%w: invalid token claims", ErrInvalidToken)
}
