// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the worker's /health endpoint returns HTTP 200,
// and 1 otherwise. The URL can be overridden with MAILTHROTTLE_HEALTH_URL.
package main

import (
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/health"

func main() {
	url := os.Getenv("MAILTHROTTLE_HEALTH_URL")
	if url == "" {
		url = defaultURL
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
