package engine_test

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/engine"
)

func TestClient_VerifyDisclosure(t *testing.T) {
	var gotBody map[string]json.RawMessage

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/disclosure/verify", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)

		_, _ = w.Write([]byte(`{"status":"VALID","attributes":{"irma-demo.MijnOverheid.ageLower.over12":"yes"}}`))
	}))
	t.Cleanup(srv.Close)

	c := engine.NewClient(srv.URL+"/", srv.Client())
	res, err := c.VerifyDisclosure(t.Context(), credential.DisclosureRequest{Nonce: big.NewInt(7)}, json.RawMessage(`{"proofs":[]}`))
	require.NoError(t, err)

	assert.Equal(t, credential.ProofValid, res.Status)
	assert.Equal(t, "yes", res.Attributes["irma-demo.MijnOverheid.ageLower.over12"])
	assert.JSONEq(t, `{"proofs":[]}`, string(gotBody["proofs"]))
	assert.JSONEq(t, `{"content":null,"nonce":7}`, string(gotBody["request"]))
}

func TestClient_IssueSignatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/issuance/issue", r.URL.Path)
		_, _ = w.Write([]byte(`{"signatures":[{"A":"1"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := engine.NewClient(srv.URL, srv.Client())
	sigs, err := c.IssueSignatures(t.Context(), credential.IssuanceRequest{}, "2.3", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"A":"1"}]`, string(sigs))
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "key missing", http.StatusInternalServerError)
			},
		},
		{
			name: "Garbage response",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			c := engine.NewClient(srv.URL, srv.Client())
			_, err := c.VerifySignedMessage(t.Context(), credential.SignedMessage{}, time.Now(), true)
			assert.Error(t, err)
		})
	}
}

func TestClient_VerifySignedMessageSendsTime(t *testing.T) {
	var got struct {
		Message      credential.SignedMessage `json:"message"`
		Time         int64                    `json:"time"`
		AllowExpired bool                     `json:"allowExpired"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/signature/check", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = w.Write([]byte(`{"status":"EXPIRED","message":"I owe you"}`))
	}))
	t.Cleanup(srv.Close)

	at := time.Unix(1700000000, 0)
	msg := credential.SignedMessage{Nonce: big.NewInt(1), Context: big.NewInt(2), Message: "I owe you"}

	res, err := engine.NewClient(srv.URL, srv.Client()).VerifySignedMessage(t.Context(), msg, at, false)
	require.NoError(t, err)

	assert.Equal(t, credential.ProofExpired, res.Status)
	assert.Equal(t, "I owe you", res.Message)
	assert.Equal(t, int64(1700000000), got.Time)
	assert.False(t, got.AllowExpired)
	assert.Equal(t, "I owe you", got.Message.Message)
}
