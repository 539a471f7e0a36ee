/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHttpClient returns a client on an HTTP/2 enabled transport shared by the
// outbound partner integrations (FX partner, Circle, Prime).
func NewHttpClient(timeout time.Duration) (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, fmt.Errorf("unable to configure http2 transport: %w", err)
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// StatusCodeError is returned when a partner answers with an unexpected status
type StatusCodeError struct {
	StatusCode int
	Body       string
}

func (e *StatusCodeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status suggests a transient failure
func (e *StatusCodeError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// DoJSON sends payload as a JSON body and decodes a JSON response into result.
// Responses with status >= 400 return a *StatusCodeError.
func DoJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &StatusCodeError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(respBody))}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
