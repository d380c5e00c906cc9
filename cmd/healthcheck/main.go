// Command healthcheck probes the relay's /healthz endpoint; it exits non-zero when the
// relay is unhealthy. Intended as a container HEALTHCHECK.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := check(ctx, http.DefaultClient, targetURL()); err != nil {
		slog.Error("healthcheck failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// targetURL resolves the probe URL: HEALTHCHECK_URL, else the relay's listen address.
func targetURL() string {
	if u := os.Getenv("HEALTHCHECK_URL"); u != "" {
		return u
	}
	addr := os.Getenv("CLIPRELAY_HTTP__ADDR")
	if addr == "" {
		addr = os.Getenv("HTTP_ADDR")
	}
	return healthzURL(addr)
}

func healthzURL(addr string) string {
	if addr == "" {
		addr = ":8080"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/healthz"
}

func check(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}
