package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type CORSConfig struct {
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	MaxAge         time.Duration `yaml:"maxAge"`
}

// CORSMiddleware allows the configured origins, or every origin when none are listed.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", traceIDHeader, requestIDHeader}
	corsConfig.ExposeHeaders = []string{traceIDHeader, requestIDHeader}
	corsConfig.MaxAge = cfg.MaxAge
	if corsConfig.MaxAge <= 0 {
		corsConfig.MaxAge = 12 * time.Hour
	}
	return cors.New(corsConfig)
}
