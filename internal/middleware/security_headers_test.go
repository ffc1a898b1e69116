package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		config   *SecurityHeadersConfig
		expected map[string]string
	}{
		{
			name: "relaxed configuration",
			config: &SecurityHeadersConfig{
				CSP:                "default-src 'self'; script-src 'self' 'unsafe-inline'",
				FrameOptions:       "DENY",
				ContentTypeOptions: "nosniff",
				ReferrerPolicy:     "same-origin",
				PermissionsPolicy:  "geolocation=(), microphone=(), camera=()",
			},
			expected: map[string]string{
				"Content-Security-Policy": "default-src 'self'; script-src 'self' 'unsafe-inline'",
				"X-Frame-Options":         "DENY",
				"X-Content-Type-Options":  "nosniff",
				"Referrer-Policy":         "same-origin",
				"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
			},
		},
		{
			name: "strict configuration",
			config: &SecurityHeadersConfig{
				CSP:                "default-src 'self'",
				FrameOptions:       "SAMEORIGIN",
				ContentTypeOptions: "nosniff",
				ReferrerPolicy:     "strict-origin-when-cross-origin",
				XSSProtection:      "1; mode=block",
			},
			expected: map[string]string{
				"Content-Security-Policy": "default-src 'self'",
				"X-Frame-Options":         "SAMEORIGIN",
				"X-Content-Type-Options":  "nosniff",
				"Referrer-Policy":         "strict-origin-when-cross-origin",
				"X-XSS-Protection":        "1; mode=block",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(SecurityHeaders(tt.config))
			router.GET("/test", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			w := httptest.NewRecorder()
			req, err := http.NewRequest("GET", "/test", nil)
			require.NoError(t, err)

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			for header, expectedValue := range tt.expected {
				assert.Equal(t, expectedValue, w.Header().Get(header), "header %s should match", header)
			}
		})
	}
}

func TestSecurityHeaders_NilConfigFallsBackToDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(SecurityHeaders(nil))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/test", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestSecurityHeaders_HSTSOnlySentOverTLS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := DefaultSecurityHeadersConfig()
	router := gin.New()
	router.Use(SecurityHeaders(config))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/test", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "HSTS should be withheld over plain HTTP")
}

func TestSecurityHeaders_RemovesServerIdentificationHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := DefaultSecurityHeadersConfig()
	require.True(t, config.RemoveServerHeaders)

	router := gin.New()
	router.Use(SecurityHeaders(config))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/test", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Server"))
	assert.Empty(t, w.Header().Get("X-Powered-By"))
}

func TestSecurityHeaders_DisabledFieldsOmitHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := &SecurityHeadersConfig{}
	router := gin.New()
	router.Use(SecurityHeaders(config))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/test", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
	assert.Empty(t, w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Referrer-Policy"))
}

func TestSecurityHeaders_CustomHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := APISecurityHeadersConfig()
	router := gin.New()
	router.Use(SecurityHeaders(config))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/test", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Equal(t, "1.0", w.Header().Get("X-API-Version"))
	assert.Contains(t, w.Header().Get("X-Robots-Tag"), "noindex")
}

func TestSecurityHeadersForEnvironment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		isHTTPS     bool
		checks      func(*testing.T, *SecurityHeadersConfig)
	}{
		{
			name:        "development",
			environment: "development",
			isHTTPS:     false,
			checks: func(t *testing.T, config *SecurityHeadersConfig) {
				assert.Empty(t, config.HSTS, "HSTS should be disabled in development")
				assert.Contains(t, config.CSP, "unsafe-inline", "CSP should allow unsafe-inline in development")
			},
		},
		{
			name:        "production with HTTPS",
			environment: "production",
			isHTTPS:     true,
			checks: func(t *testing.T, config *SecurityHeadersConfig) {
				assert.NotEmpty(t, config.HSTS, "HSTS should stay enabled in production over HTTPS")
				assert.NotContains(t, config.CSP, "unsafe-inline", "CSP should not allow unsafe-inline in production")
			},
		},
		{
			name:        "production without HTTPS",
			environment: "production",
			isHTTPS:     false,
			checks: func(t *testing.T, config *SecurityHeadersConfig) {
				assert.Empty(t, config.HSTS, "HSTS should be disabled without HTTPS")
				assert.Empty(t, config.ExpectCT)
			},
		},
		{
			name:        "staging",
			environment: "staging",
			isHTTPS:     true,
			checks: func(t *testing.T, config *SecurityHeadersConfig) {
				assert.NotEmpty(t, config.HSTS, "HSTS should be enabled in staging over HTTPS")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := SecurityHeadersForEnvironment(tt.environment, tt.isHTTPS)
			require.NotNil(t, config)
			tt.checks(t, config)
		})
	}
}

func TestWebhookSecurityHeadersConfig_OmitsHSTS(t *testing.T) {
	config := WebhookSecurityHeadersConfig()
	assert.Empty(t, config.HSTS, "webhook endpoints may be called by external services that shouldn't get HSTS")
	assert.Empty(t, config.ExpectCT)
}

func TestStrictSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(StrictSecurityHeaders())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/test", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, proxy-revalidate", w.Header().Get("Cache-Control"))
}

func TestSecurityHeaders_PresentOnOptionsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config := &SecurityHeadersConfig{CSP: "default-src 'self'"}
	router := gin.New()
	router.Use(SecurityHeaders(config))
	router.OPTIONS("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	for _, origin := range []string{"https://example.com", "https://example.org"} {
		t.Run(origin, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, err := http.NewRequest("OPTIONS", "/test", nil)
			require.NoError(t, err)
			req.Header.Set("Origin", origin)

			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
		})
	}
}

func BenchmarkSecurityHeaders(b *testing.B) {
	gin.SetMode(gin.TestMode)

	config := SecurityHeadersForEnvironment("production", true)
	router := gin.New()
	router.Use(SecurityHeaders(config))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/test", nil)
			router.ServeHTTP(w, req)
		}
	})
}
