/*
Copyright The Verda Cloud Provider Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package verda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/verda-cloud/verda-cloud-provider/pkg/cloudprovider"
)

const (
	tokenPath         = "/oauth2/token"
	requestTimeout    = 30 * time.Second
	maxErrorBodyBytes = 64 * 1024
)

// outOfResourcesCodes are the API error codes that mean the cloud cannot host more instances right now
var outOfResourcesCodes = []string{"insufficient_capacity", "no_capacity", "insufficient_resources", "quota_exceeded", "insufficient_funds"}

// client is a rate limited, authenticated JSON client for the Verda REST API
type client struct {
	baseURL   string
	http      *http.Client
	transport *http.Transport
	limiter   *rate.Limiter

	retryAttempts uint
	retryDelay    time.Duration
}

// tokenSource exchanges client credentials for an access token. The token endpoint takes a JSON body, which
// is why this is not oauth2/clientcredentials.
type tokenSource struct {
	ctx          context.Context
	http         *http.Client
	url          string
	clientID     string
	clientSecret string
}

func (t *tokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(tokenRequest{GrantType: "client_credentials", ClientID: t.clientID, ClientSecret: t.clientSecret})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting access token, %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("requesting access token, %w", responseError(resp))
	}
	token := tokenResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decoding access token, %w", err)
	}
	return &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    lo.Ternary(token.TokenType == "", "Bearer", token.TokenType),
		Expiry:       time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}, nil
}

// do sends one request and decodes a JSON response into out. A nil out discards the body.
func (c *client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter, %w", err)
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request, %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s, %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s, %w", method, path, responseError(resp))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if s, ok := out.(*string); ok {
		// create endpoints answer with the bare id of the new object
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s %s response, %w", method, path, err)
		}
		*s = strings.Trim(strings.TrimSpace(string(raw)), `"`)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response, %w", method, path, err)
	}
	return nil
}

// get retries transient failures. Mutating calls go through do directly and are never retried.
func (c *client) get(ctx context.Context, path string, out interface{}) error {
	return retry.Do(
		func() error { return c.do(ctx, http.MethodGet, path, nil, out) },
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			log.FromContext(ctx).V(1).Info("retrying request", "path", path, "attempt", n+1, "error", err.Error())
		}),
	)
}

// responseError converts an unsuccessful response into the typed error the engine understands
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	body := apiError{}
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(raw))
	}
	if body.Code == "" {
		body.Code = strings.ToLower(strings.ReplaceAll(http.StatusText(resp.StatusCode), " ", "_"))
	}
	class := lo.Ternary(lo.Contains(outOfResourcesCodes, body.Code), cloudprovider.ErrorClassOutOfResources, cloudprovider.ErrorClassOther)
	err := error(cloudprovider.NewCloudOperationFailedError(&statusError{status: resp.StatusCode}, body.Code, body.Message, class))
	if resp.StatusCode == http.StatusNotFound {
		return cloudprovider.NewNotFoundError(err)
	}
	return err
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d %s", e.status, http.StatusText(e.status))
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= http.StatusInternalServerError
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, io.ErrUnexpectedEOF)
}
