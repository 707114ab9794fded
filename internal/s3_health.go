package internal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lychee-technology/metaeditor"
)

// ValidateS3Config checks that s3 credentials are given in pairs.
func ValidateS3Config(cfg metaeditor.S3Config) error {
	if cfg.AccessKey != "" && cfg.SecretKey == "" {
		return fmt.Errorf("s3.access_key provided without s3.secret_key")
	}
	if cfg.SecretKey != "" && cfg.AccessKey == "" {
		return fmt.Errorf("s3.secret_key provided without s3.access_key")
	}
	return nil
}

// S3HealthCheck sends an anonymous HEAD request to the configured endpoint.
// It only proves the endpoint is reachable: AWS usually answers 403, which is
// reported as an auth error rather than a network failure.
func S3HealthCheck(ctx context.Context, cfg metaeditor.S3Config, timeout time.Duration) error {
	if err := ValidateS3Config(cfg); err != nil {
		return err
	}
	if cfg.Endpoint == "" {
		return fmt.Errorf("s3 endpoint not configured")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("s3 health request build failed: %w", err)
	}
	resp, err := (&http.Client{Timeout: timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("s3 health request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("s3 endpoint reachable but returned auth error: %d", resp.StatusCode)
	default:
		return fmt.Errorf("s3 endpoint returned unexpected status: %d", resp.StatusCode)
	}
}
