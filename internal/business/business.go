package business

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/authz/authzsql"
	"github.com/openkcm/anoncred-broker/internal/business/server"
	"github.com/openkcm/anoncred-broker/internal/config"
	"github.com/openkcm/anoncred-broker/internal/engine"
	"github.com/openkcm/anoncred-broker/internal/historian"
	"github.com/openkcm/anoncred-broker/internal/historian/historianvalkey"
	"github.com/openkcm/anoncred-broker/internal/jwtcodec"
	"github.com/openkcm/anoncred-broker/internal/keys"
	"github.com/openkcm/anoncred-broker/internal/protocol"
	"github.com/openkcm/anoncred-broker/internal/scheme"
	"github.com/openkcm/anoncred-broker/internal/session"
	"github.com/openkcm/anoncred-broker/internal/statussocket"
)

// Main starts the broker API server.
func Main(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	services, closeFn, err := initBroker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the broker: %w", err)
	}
	defer closeFn()

	return server.StartHTTPServer(ctx, cfg, services, server.Meter(cfg))
}

// closers runs the registered release functions in reverse order.
type closers []func()

func (c closers) close() {
	for _, fn := range slices.Backward(c) {
		fn()
	}
}

func initBroker(ctx context.Context, cfg *config.Config) (_ *server.Services, closeFn func(), err error) {
	var cl closers
	defer func() {
		if err != nil {
			cl.close()
		}
	}()

	scheduler := session.NewScheduler()
	cl = append(cl, scheduler.Stop)

	registry := session.NewRegistry(scheduler, session.Timeouts{
		TokenGet:      cfg.Sessions.TokenGetTimeout,
		TokenResponse: cfg.Sessions.TokenResponseTimeout,
		ClientGet:     cfg.Sessions.ClientGetTimeout,
	})

	sealer, err := sealerFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	keyDir := keys.NewDirectory(cfg.JWT.ClientKeysPath, cfg.JWT.ClientNames, cfg.JWT.KeyCacheTTL)

	repo, closeRepo, err := authzRepoFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cl = append(cl, closeRepo)
	authorizer := authz.NewAuthorizer(repo)

	schemeData, err := os.ReadFile(cfg.Scheme.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading scheme metadata: %w", err)
	}
	metadata, err := scheme.Parse(schemeData)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing scheme metadata: %w", err)
	}

	engineClient, err := loadHTTPClient(cfg.CredentialEngine)
	if err != nil {
		return nil, nil, fmt.Errorf("loading credential engine http client: %w", err)
	}
	credEngine := engine.NewClient(cfg.CredentialEngine.URL, engineClient)

	metrics, err := protocol.NewMetrics(server.Meter(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("creating session metrics: %w", err)
	}

	callbacks := protocol.NewCallbacks(&http.Client{Timeout: cfg.HTTP.CallbackTimeout}, cfg.HTTP.CallbackTimeout)
	cl = append(cl, callbacks.Wait)

	opts := []protocol.Option{
		protocol.WithMetrics(metrics),
		protocol.WithMaxRequestAge(cfg.JWT.MaxRequestAge),
		protocol.WithCallbacks(callbacks),
	}

	if cfg.Historian.Enabled {
		sink, closeSink, err := historySinkFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
		cl = append(cl, closeSink)

		h := historian.New(sink)
		h.Enable(ctx)
		cl = append(cl, h.Disable)

		opts = append(opts, protocol.WithRecorder(h))
	}

	flowOpts := func(f config.Flow) []protocol.Option {
		return append(slices.Clone(opts), protocol.WithUnsignedRequests(f.AllowUnsigned))
	}

	services := &server.Services{
		StatusSocket: statussocket.NewHandler(registry,
			statussocket.WithOriginPatterns(cfg.StatusSocket.OriginPatterns...),
			statussocket.WithErrorWriter(server.WriteError),
		),
	}

	if f := cfg.Flows.Verification; !f.Disabled {
		services.Verification = protocol.New(protocol.NewDisclosure(credEngine, metadata, authorizer),
			registry, sealer, keyDir, flowOpts(f)...)
	}

	if f := cfg.Flows.Signature; !f.Disabled {
		services.Signature = protocol.New(protocol.NewSignature(credEngine, metadata, authorizer),
			registry, sealer, keyDir, flowOpts(f)...)
		services.Checker = protocol.NewSignatureChecker(credEngine, sealer)
	}

	if f := cfg.Flows.Issue; !f.Disabled {
		services.Issue = protocol.New(protocol.NewIssuance(credEngine, metadata, authorizer, !cfg.Issuance.AllowUnflooredValidity),
			registry, sealer, keyDir, flowOpts(f)...)
	}

	slogctx.Info(ctx, "Broker initialised",
		"verification", !cfg.Flows.Verification.Disabled,
		"signature", !cfg.Flows.Signature.Disabled,
		"issue", !cfg.Flows.Issue.Disabled,
		"historian", cfg.Historian.Enabled,
	)

	return services, cl.close, nil
}

func sealerFromConfig(cfg *config.Config) (*jwtcodec.Sealer, error) {
	pemKey, err := commoncfg.LoadValueFromSourceRef(cfg.JWT.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("loading jwt private key: %w", err)
	}

	key, err := keys.ParsePrivateKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt private key: %w", err)
	}

	sealer, err := jwtcodec.NewSealer(key, cfg.JWT.KeyID, cfg.JWT.Issuer)
	if err != nil {
		return nil, fmt.Errorf("creating result sealer: %w", err)
	}

	return sealer, nil
}

func authzRepoFromConfig(ctx context.Context, cfg *config.Config) (authz.Repository, func(), error) {
	switch cfg.Authorization.Source {
	case config.AuthorizationSourceDatabase:
		db, err := dbPoolFromConfig(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		return authzsql.NewRepository(db), db.Close, nil
	case config.AuthorizationSourceConfig:
		a := cfg.Authorization
		return authz.NewConfigRepository(a.Verifiers, a.Signers, a.Issuers), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown authorization source %q", cfg.Authorization.Source)
	}
}

func dbPoolFromConfig(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connStr, err := config.MakeConnStr(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("making dsn from config: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing pgxpool config: %w", err)
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("initialising pgxpool connection: %w", err)
	}

	return db, nil
}

func historySinkFromConfig(cfg *config.Config) (historian.Sink, func(), error) {
	switch cfg.Historian.Sink {
	case config.HistorianSinkValKey:
		client, err := valkeyClientFromConfig(cfg)
		if err != nil {
			return nil, nil, err
		}

		return historianvalkey.NewSink(client, cfg.ValKey.Prefix), client.Close, nil
	case config.HistorianSinkWebhook:
		var token []byte
		if cfg.Historian.Token.Source != "" {
			var err error
			token, err = commoncfg.LoadValueFromSourceRef(cfg.Historian.Token)
			if err != nil {
				return nil, nil, fmt.Errorf("loading historian token: %w", err)
			}
		}

		client := &http.Client{Timeout: cfg.Historian.Timeout}

		return historian.NewWebhookSink(cfg.Historian.URL, string(token), client), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown historian sink %q", cfg.Historian.Sink)
	}
}

func valkeyClientFromConfig(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to load valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("failed to load valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to load valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new valkey client: %w", err)
	}

	return client, nil
}

// loadHTTPClient builds the client used to reach the credential engine.
func loadHTTPClient(cfg config.CredentialEngine) (*http.Client, error) {
	switch cfg.ClientAuth.Type {
	case config.ClientAuthMTLS:
		if cfg.ClientAuth.MTLS == nil {
			return nil, errors.New("mTLS client auth without certificates")
		}

		tlsConfig, err := commoncfg.LoadMTLSConfig(cfg.ClientAuth.MTLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load mTLS config: %w", err)
		}

		return &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}, nil
	case config.ClientAuthBearer:
		token, err := commoncfg.LoadValueFromSourceRef(cfg.ClientAuth.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to load bearer token: %w", err)
		}

		return &http.Client{
			Timeout: cfg.Timeout,
			Transport: &bearerRoundTripper{
				token: string(token),
				next:  http.DefaultTransport,
			},
		}, nil
	case config.ClientAuthInsecure, "":
		return &http.Client{Timeout: cfg.Timeout}, nil
	default:
		return nil, errors.New("unknown Client Auth type")
	}
}

type bearerRoundTripper struct {
	token string
	next  http.RoundTripper
}

func (t *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)

	return t.next.RoundTrip(req)
}
