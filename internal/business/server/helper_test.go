package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/config"
	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/credential/credentialmock"
	"github.com/openkcm/anoncred-broker/internal/jwtcodec"
	"github.com/openkcm/anoncred-broker/internal/keys"
	"github.com/openkcm/anoncred-broker/internal/protocol"
	"github.com/openkcm/anoncred-broker/internal/session"
	"github.com/openkcm/anoncred-broker/internal/statussocket"
)

func testConfig() *config.Config {
	return &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{
				Name:        "test-app",
				Environment: "test",
			},
		},
		HTTP: config.HTTPServer{
			Address:         "localhost:0",
			ShutdownTimeout: time.Second,
			MaxBodyBytes:    1 << 16,
		},
	}
}

type noKeys struct{}

func (noKeys) Resolve(string, string) (keys.PublicKey, error) {
	return keys.PublicKey{}, keys.ErrKeyNotFound
}

type broker struct {
	registry *session.Registry
	sealer   *jwtcodec.Sealer
	engine   *credentialmock.Engine
	svc      *Services
	server   *httptest.Server
}

// newBroker serves every flow over a test server, accepting unsigned requests.
func newBroker(t *testing.T, cfg *config.Config, mutate func(svc *Services)) *broker {
	t.Helper()

	scheduler := session.NewScheduler()
	t.Cleanup(scheduler.Stop)
	registry := session.NewRegistry(scheduler, session.Timeouts{
		TokenGet:      time.Minute,
		TokenResponse: time.Minute,
		ClientGet:     time.Minute,
	})

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	sealer, err := jwtcodec.NewSealer(key, "broker", "anoncred-broker")
	require.NoError(t, err)

	engine := credentialmock.NewEngine()
	metadata := credentialmock.NewMetadata(
		credentialmock.WithCredential("irma-demo.MijnOverheid.ageLower", "over12", "over18"),
		credentialmock.WithCredential("irma-demo.MijnOverheid.root", "BSN"),
		credentialmock.WithKeys("irma-demo.MijnOverheid", 2, true),
	)
	authorizer := authz.NewAuthorizer(authz.NewConfigRepository(
		map[string][]string{"shop": {"irma-demo.*"}},
		map[string][]string{"notary": {"*"}},
		map[string][]string{"gov": {"irma-demo.MijnOverheid.*"}},
	))

	opts := []protocol.Option{protocol.WithUnsignedRequests(true), protocol.WithMaxRequestAge(time.Minute)}
	svc := &Services{
		Verification: protocol.New(protocol.NewDisclosure(engine, metadata, authorizer), registry, sealer, noKeys{}, opts...),
		Signature:    protocol.New(protocol.NewSignature(engine, metadata, authorizer), registry, sealer, noKeys{}, opts...),
		Issue:        protocol.New(protocol.NewIssuance(engine, metadata, authorizer, true), registry, sealer, noKeys{}, opts...),
		Checker:      protocol.NewSignatureChecker(engine, sealer),
		StatusSocket: statussocket.NewHandler(registry, statussocket.WithErrorWriter(WriteError)),
	}
	if mutate != nil {
		mutate(svc)
	}

	meters, err := initMeters(t.Context(), noop.NewMeterProvider().Meter("server_test"))
	require.NoError(t, err)

	server := httptest.NewServer(newHandler(cfg, svc, meters))
	t.Cleanup(server.Close)

	return &broker{
		registry: registry,
		sealer:   sealer,
		engine:   engine,
		svc:      svc,
		server:   server,
	}
}

func (b *broker) do(t *testing.T, method, path string, body string, header map[string]string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, b.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := b.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(raw)
}

func unsignedRequest(t *testing.T, sub, iss, field string, payload any) string {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"sub": sub,
		"iss": iss,
		"iat": time.Now().Unix(),
		field: payload,
	})
	require.NoError(t, err)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	return header + "." + base64.RawURLEncoding.EncodeToString(body) + "."
}

func over12Request(t *testing.T) string {
	t.Helper()

	return unsignedRequest(t, "verification_request", "shop", "sprequest", map[string]any{
		"request": credential.DisclosureRequest{
			Content: []credential.AttributeDisjunction{{
				Label:      "age",
				Attributes: []credential.AttributeIdentifier{"irma-demo.MijnOverheid.ageLower.over12"},
			}},
		},
	})
}
