// Package auth decides whether an access token grants access to a document.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collabhub/internal/utils"
)

type Authorizer interface {
	Authorize(ctx context.Context, token, docID string) (bool, error)
}

// PermitAll grants every request. Intended for non-production deployments.
type PermitAll struct{}

func (PermitAll) Authorize(context.Context, string, string) (bool, error) { return true, nil }

// JWTAuthorizer validates HS256 document tokens locally.
type JWTAuthorizer struct {
	secret []byte
}

func NewJWTAuthorizer(secret string) *JWTAuthorizer {
	return &JWTAuthorizer{secret: []byte(secret)}
}

func (a *JWTAuthorizer) Authorize(_ context.Context, token, docID string) (bool, error) {
	claims, err := utils.ValidateDocumentToken(token, a.secret)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidToken) {
			return false, nil
		}
		return false, err
	}
	return claims.Allows(docID), nil
}

// HTTPAuthorizer asks the auth service:
//
//	POST /verify?doc_id={id}  {"token": ...}  -> 200 {"ok": true}
type HTTPAuthorizer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAuthorizer(baseURL string, timeout time.Duration) *HTTPAuthorizer {
	return &HTTPAuthorizer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, token, docID string) (bool, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return false, err
	}
	endpoint := a.baseURL + "/verify?doc_id=" + url.QueryEscape(docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to call auth service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	result := struct {
		OK *bool `json:"ok"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("decode verify response: %w", err)
	}
	if result.OK == nil {
		return true, nil
	}
	return *result.OK, nil
}
