package protocol_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/credential/credentialmock"
	"github.com/openkcm/anoncred-broker/internal/historian"
	"github.com/openkcm/anoncred-broker/internal/jwtcodec"
	"github.com/openkcm/anoncred-broker/internal/keys"
	"github.com/openkcm/anoncred-broker/internal/protocol"
	"github.com/openkcm/anoncred-broker/internal/session"
)

const (
	attrOver12 = credential.AttributeIdentifier("irma-demo.MijnOverheid.ageLower.over12")
	attrOver18 = credential.AttributeIdentifier("irma-demo.MijnOverheid.ageLower.over18")
	attrEmail  = credential.AttributeIdentifier("pbdf.pbdf.email.email")

	credAgeLower = credential.CredentialIdentifier("irma-demo.MijnOverheid.ageLower")
	credRoot     = credential.CredentialIdentifier("irma-demo.MijnOverheid.root")
	credStudent  = credential.CredentialIdentifier("irma-demo.RU.studentCard")

	// floored to the validity epoch
	flooredValidity = int64(1_700_092_800)
)

var testTimeouts = session.Timeouts{TokenGet: time.Minute, TokenResponse: time.Minute, ClientGet: time.Minute}

type eventRecorder struct {
	mu     sync.Mutex
	events []historian.Event
}

func (r *eventRecorder) Record(e historian.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []historian.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]historian.Event(nil), r.events...)
}

type staticKeys map[string]keys.PublicKey

func (s staticKeys) Resolve(_, keyID string) (keys.PublicKey, error) {
	pk, ok := s[keyID]
	if !ok {
		return keys.PublicKey{}, keys.ErrKeyNotFound
	}
	return pk, nil
}

type fixture struct {
	registry  *session.Registry
	sealer    *jwtcodec.Sealer
	engine    *credentialmock.Engine
	metadata  *credentialmock.Metadata
	authz     *authz.Authorizer
	recorder  *eventRecorder
	callbacks *protocol.Callbacks
	keys      staticKeys
	clientKey *rsa.PrivateKey
}

func newFixture(t *testing.T, engineOpts ...credentialmock.EngineOption) *fixture {
	t.Helper()

	scheduler := session.NewScheduler()
	t.Cleanup(scheduler.Stop)

	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	sealer, err := jwtcodec.NewSealer(serverKey, "broker", "anoncred-broker")
	require.NoError(t, err)

	clientKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	callbacks := protocol.NewCallbacks(nil, time.Second)
	t.Cleanup(callbacks.Wait)

	return &fixture{
		registry: session.NewRegistry(scheduler, testTimeouts),
		sealer:   sealer,
		engine:   credentialmock.NewEngine(engineOpts...),
		metadata: credentialmock.NewMetadata(
			credentialmock.WithCredential(credAgeLower, "over12", "over18"),
			credentialmock.WithCredential(credRoot, "BSN"),
			credentialmock.WithCredential(credStudent, "university", "studentID"),
			credentialmock.WithCredential("pbdf.pbdf.email", "email"),
			credentialmock.WithKeys("irma-demo.MijnOverheid", 2, true),
			credentialmock.WithKeys("irma-demo.RU", 1, false),
		),
		authz: authz.NewAuthorizer(authz.NewConfigRepository(
			map[string][]string{"shop": {"irma-demo.MijnOverheid.ageLower.*"}},
			map[string][]string{"notary": {"*"}},
			map[string][]string{"gov": {"irma-demo.*"}},
		)),
		recorder:  &eventRecorder{},
		callbacks: callbacks,
		keys:      staticKeys{"shop": {Key: &clientKey.PublicKey, Owner: "shop"}},
		clientKey: clientKey,
	}
}

func (f *fixture) options() []protocol.Option {
	metrics, _ := protocol.NewMetrics(noop.NewMeterProvider().Meter("protocol_test"))

	return []protocol.Option{
		protocol.WithMetrics(metrics),
		protocol.WithMaxRequestAge(time.Minute),
		protocol.WithUnsignedRequests(true),
		protocol.WithCallbacks(f.callbacks),
		protocol.WithRecorder(f.recorder),
	}
}

func (f *fixture) disclosure() *protocol.Orchestrator[credential.DisclosureRequest, credential.DisclosureResult] {
	return protocol.New(protocol.NewDisclosure(f.engine, f.metadata, f.authz), f.registry, f.sealer, f.keys, f.options()...)
}

func (f *fixture) signature() *protocol.Orchestrator[credential.SignatureRequest, credential.SignatureResult] {
	return protocol.New(protocol.NewSignature(f.engine, f.metadata, f.authz), f.registry, f.sealer, f.keys, f.options()...)
}

func (f *fixture) issuance() *protocol.Orchestrator[credential.IssuanceRequest, credential.IssuanceResult] {
	return protocol.New(protocol.NewIssuance(f.engine, f.metadata, f.authz, true), f.registry, f.sealer, f.keys, f.options()...)
}

// unsignedRequest builds an alg none request token.
func unsignedRequest(t *testing.T, sub, iss, field string, payload any) string {
	t.Helper()

	return unsignedRequestAt(t, sub, iss, field, payload, time.Now())
}

func unsignedRequestAt(t *testing.T, sub, iss, field string, payload any, iat time.Time) string {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"sub":  sub,
		"iss":  iss,
		"iat":  iat.Unix(),
		field: payload,
	})
	require.NoError(t, err)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	return header + "." + base64.RawURLEncoding.EncodeToString(body) + "."
}

func (f *fixture) signedRequest(t *testing.T, keyID, sub, field string, payload any) string {
	t.Helper()

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: f.clientKey, KeyID: keyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	token, err := jwt.Signed(signer).Claims(map[string]any{
		"sub": sub,
		"iat": time.Now().Unix(),
		field: payload,
	}).Serialize()
	require.NoError(t, err)

	return token
}

func disclosureRequest(attrs ...credential.AttributeIdentifier) map[string]any {
	return map[string]any{
		"callbackUrl": "",
		"data":        map[string]any{"order": 42},
		"request": credential.DisclosureRequest{
			Content: []credential.AttributeDisjunction{{Label: "age", Attributes: attrs}},
		},
	}
}

// unseal verifies a sealed token with the sealer's public key and returns its claims.
func (f *fixture) unseal(t *testing.T, token string) map[string]any {
	t.Helper()

	parsed, err := jwt.ParseSigned(token, jwtcodec.SignatureAlgorithms)
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, parsed.Claims(f.sealer.PublicKey().Key, &claims))

	return claims
}

// callbackServer records the bodies posted to it by path.
type callbackServer struct {
	*httptest.Server

	mu       sync.Mutex
	received map[string]string
}

func newCallbackServer(t *testing.T) *callbackServer {
	t.Helper()

	cs := &callbackServer{received: make(map[string]string)}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		cs.mu.Lock()
		cs.received[strings.TrimPrefix(r.URL.Path, "/callback/")] = string(b)
		cs.mu.Unlock()

		if r.Header.Get("Content-Type") != "text/plain" {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cs.Close)

	return cs
}

func (cs *callbackServer) url() string {
	return cs.URL + "/callback"
}

func (cs *callbackServer) get(token string) (string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	body, ok := cs.received[token]
	return body, ok
}
