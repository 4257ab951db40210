// Package engine talks to a remote credential engine over HTTP.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openkcm/anoncred-broker/internal/credential"
)

const maxErrorBody = 512

type Client struct {
	baseURL string
	http    *http.Client
}

var _ = credential.Engine(&Client{})

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

type proofsRequest[R any] struct {
	Request R               `json:"request"`
	Version string          `json:"version,omitempty"`
	Proofs  json.RawMessage `json:"proofs"`
}

func (c *Client) VerifyDisclosure(ctx context.Context, req credential.DisclosureRequest, proofs json.RawMessage) (credential.DisclosureResult, error) {
	var res credential.DisclosureResult
	err := c.post(ctx, "/v1/disclosure/verify", proofsRequest[credential.DisclosureRequest]{Request: req, Proofs: proofs}, &res)

	return res, err
}

func (c *Client) VerifySignature(ctx context.Context, req credential.SignatureRequest, proofs json.RawMessage) (credential.SignatureResult, error) {
	var res credential.SignatureResult
	err := c.post(ctx, "/v1/signature/verify", proofsRequest[credential.SignatureRequest]{Request: req, Proofs: proofs}, &res)

	return res, err
}

type checkRequest struct {
	Message      credential.SignedMessage `json:"message"`
	Time         int64                    `json:"time"`
	AllowExpired bool                     `json:"allowExpired"`
}

func (c *Client) VerifySignedMessage(ctx context.Context, msg credential.SignedMessage, at time.Time, allowExpired bool) (credential.SignatureResult, error) {
	var res credential.SignatureResult
	err := c.post(ctx, "/v1/signature/check", checkRequest{Message: msg, Time: at.Unix(), AllowExpired: allowExpired}, &res)

	return res, err
}

func (c *Client) VerifyCommitments(ctx context.Context, req credential.IssuanceRequest, version string, commitments json.RawMessage) (credential.DisclosureResult, error) {
	var res credential.DisclosureResult
	err := c.post(ctx, "/v1/issuance/verify",
		proofsRequest[credential.IssuanceRequest]{Request: req, Version: version, Proofs: commitments}, &res)

	return res, err
}

func (c *Client) IssueSignatures(ctx context.Context, req credential.IssuanceRequest, version string, commitments json.RawMessage) (json.RawMessage, error) {
	var res struct {
		Signatures json.RawMessage `json:"signatures"`
	}
	err := c.post(ctx, "/v1/issuance/issue",
		proofsRequest[credential.IssuanceRequest]{Request: req, Version: version, Proofs: commitments}, &res)
	if err != nil {
		return nil, err
	}

	return res.Signatures, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshalling engine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling engine %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("engine %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding engine response: %w", err)
	}

	return nil
}
