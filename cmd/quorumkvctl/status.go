package main

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

func fetchHealth(metricsAddr string) (string, error) {
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Get("http://" + metricsAddr + "/healthz")
	if err != nil {
		return "", fmt.Errorf("fetch health: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read health response: %w", err)
	}
	return string(body), nil
}
