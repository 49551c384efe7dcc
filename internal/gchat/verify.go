package gchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Chat signs webhook calls with a bearer JWT issued by its system service
// account; the audience claim carries the receiving project number.
const (
	chatIssuer      = "chat@system.gserviceaccount.com"
	defaultCertsURL = "https://www.googleapis.com/service_accounts/v1/metadata/x509/" + chatIssuer

	certCacheTTL = time.Hour
)

// Verifier checks that inbound webhook calls originate from Chat by
// validating the bearer JWT's signature, issuer, and audience. Signing
// certificates are fetched from Google's public endpoint and cached.
type Verifier struct {
	audience   string
	certsURL   string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	certs     map[string]string
	fetchedAt time.Time
}

// NewVerifier creates a verifier for the given project number (the expected
// audience claim).
func NewVerifier(log *slog.Logger, projectNumber string) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{
		audience:   strings.TrimSpace(projectNumber),
		certsURL:   defaultCertsURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log.With(slog.String("component", "gchat_verifier")),
	}
}

// Middleware returns an Echo middleware rejecting requests whose bearer
// token does not verify. Requests pass through when no project number is
// configured.
func (v *Verifier) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if v == nil || v.audience == "" {
				return next(c)
			}
			raw := bearerToken(c.Request())
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			if err := v.Verify(c.Request().Context(), raw); err != nil {
				v.logger.Warn("webhook token rejected", slog.Any("error", err))
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			return next(c)
		}
	}
}

// Verify validates a raw bearer JWT against Chat's signing certificates.
func (v *Verifier) Verify(ctx context.Context, raw string) error {
	_, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		pemCert, err := v.cert(ctx, kid)
		if err != nil {
			return nil, err
		}
		return jwt.ParseRSAPublicKeyFromPEM([]byte(pemCert))
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(chatIssuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	return err
}

// cert returns the PEM certificate for kid, refreshing the cache when the
// kid is unknown or the cache is stale (key rotation).
func (v *Verifier) cert(ctx context.Context, kid string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if pemCert, ok := v.certs[kid]; ok && time.Since(v.fetchedAt) < certCacheTTL {
		return pemCert, nil
	}

	certs, err := v.fetchCerts(ctx)
	if err != nil {
		return "", err
	}
	v.certs = certs
	v.fetchedAt = time.Now()

	pemCert, ok := certs[kid]
	if !ok {
		return "", fmt.Errorf("no certificate for kid %q", kid)
	}
	return pemCert, nil
}

func (v *Verifier) fetchCerts(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signing certs: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signing certs: status %d", resp.StatusCode)
	}

	certs := map[string]string{}
	if err := json.Unmarshal(body, &certs); err != nil {
		return nil, fmt.Errorf("parse signing certs: %w", err)
	}
	return certs, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get(echo.HeaderAuthorization)
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return ""
}
