package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const corsMaxAge = 10 * time.Minute

// NewCORS разрешает браузерные запросы с перечисленных origin.
// Пустой список отключает CORS. "*" разрешает любой origin, но без credentials:
// cookie sb-access-token уходит только на явно перечисленные origin.
func NewCORS(allowedOrigins []string) (gin.HandlerFunc, error) {
	origins := make([]string, 0, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			allowAll = true
		default:
			origins = append(origins, o)
		}
	}
	if !allowAll && len(origins) == 0 {
		return func(c *gin.Context) { c.Next() }, nil
	}

	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: !allowAll,
		MaxAge:           corsMaxAge,
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}
	return cors.New(cfg), nil
}
