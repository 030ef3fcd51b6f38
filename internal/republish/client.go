// Package republish talks to the external republish action: the one opaque,
// potentially slow, potentially failing operation this service orchestrates.
package republish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
)

// Request is the JSON body sent per brand.
type Request struct {
	BrandID   string `json:"brand_id"`
	BrandName string `json:"brand_name"`
}

// Response is the expected JSON reply.
type Response struct {
	VehiclesCount int    `json:"vehicles_count"`
	Error         string `json:"error,omitempty"`
}

type Config struct {
	// URL receives one POST per brand.
	URL string
	// Secret signs request bodies with HMAC-SHA256; empty disables signing.
	Secret string
	// RequestsPerMinute bounds the request rate to the downstream action.
	// Republishing is rate-sensitive; 0 disables the limiter.
	RequestsPerMinute int
}

// Client is an HTTP implementation of the republish action.
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

func NewClient(config Config) *Client {
	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), 1)
	}
	return &Client{
		config:  config,
		client:  &http.Client{},
		limiter: limiter,
	}
}

// Republish posts one brand to the republish endpoint and returns the number
// of vehicle listings republished. Timeouts and cancellation come from ctx;
// the caller owns the per-brand deadline.
func (c *Client) Republish(ctx context.Context, brand domain.Brand) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	body, err := json.Marshal(Request{
		BrandID:   brand.ID.String(),
		BrandName: brand.Name,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Republisher-Brand-ID", brand.ID.String())
	if c.config.Secret != "" {
		req.Header.Set("X-Republisher-Signature", computeSignature(c.config.Secret, body))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("republish %s: %w", brand.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("republish %s: status %d", brand.Name, resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("republish %s: decode response: %w", brand.Name, err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("republish %s: %s", brand.Name, out.Error)
	}
	if out.VehiclesCount < 0 {
		return 0, fmt.Errorf("republish %s: negative vehicles_count %d", brand.Name, out.VehiclesCount)
	}
	return out.VehiclesCount, nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets the receiving side verify a request body.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
