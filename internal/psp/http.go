package psp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPVerifier talks to a generic provider exposing a read-only credential
// check endpoint. Used for providers without an SDK in the tree.
type HTTPVerifier struct {
	name       string
	baseURL    string
	verifyPath string
	client     *http.Client
}

func NewHTTPVerifier(name, baseURL, verifyPath string, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{
		name:       name,
		baseURL:    baseURL,
		verifyPath: verifyPath,
		client:     &http.Client{Timeout: timeout},
	}
}

func (v *HTTPVerifier) Name() string { return v.name }

type httpVerifyReq struct {
	Credential string `json:"credential"`
}

type httpVerifyResp struct {
	Valid  bool     `json:"valid"`
	Scopes []string `json:"scopes"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, credential string) (Verdict, error) {
	b, _ := json.Marshal(httpVerifyReq{Credential: credential})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+v.verifyPath, bytes.NewReader(b))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := v.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		var body httpVerifyResp
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			return Verdict{}, fmt.Errorf("provider=%s decode: %w", v.name, err)
		}
		return Verdict{Valid: body.Valid, Scopes: body.Scopes}, nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return Verdict{Valid: false}, nil
	default:
		return Verdict{}, fmt.Errorf("provider=%s path=%s status=%d", v.name, v.verifyPath, res.StatusCode)
	}
}
