package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/metric"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/config"
	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/middleware/clientip"
	"github.com/openkcm/anoncred-broker/internal/middleware/responsewriter"
	"github.com/openkcm/anoncred-broker/internal/protocol"
)

// Services are the components served over HTTP. A nil orchestrator is a
// disabled flow and gets no routes.
type Services struct {
	Verification *protocol.Orchestrator[credential.DisclosureRequest, credential.DisclosureResult]
	Signature    *protocol.Orchestrator[credential.SignatureRequest, credential.SignatureResult]
	Issue        *protocol.Orchestrator[credential.IssuanceRequest, credential.IssuanceResult]

	Checker *protocol.SignatureChecker
	// StatusSocket upgrades GET /status/{token}.
	StatusSocket http.Handler
}

// newHandler builds the routes of every enabled flow wrapped in the common middlewares.
func newHandler(cfg *config.Config, svc *Services, meters *httpMeters) http.Handler {
	mux := http.NewServeMux()
	wrap := newTraceMiddleware(cfg, meters)
	maxBody := cfg.HTTP.MaxBodyBytes

	if svc.Verification != nil {
		h := &flowHandler[credential.DisclosureRequest, credential.DisclosureResult]{o: svc.Verification, maxBody: maxBody}
		h.mount(mux, wrap, "proofs")
	}

	if svc.Signature != nil {
		h := &flowHandler[credential.SignatureRequest, credential.SignatureResult]{o: svc.Signature, maxBody: maxBody}
		h.mount(mux, wrap, "proofs")
		mux.Handle("GET /signature/{token}/getsignature", wrap("signature.sealedresult", h.sealedResult))
	}

	if svc.Checker != nil {
		check := &checkSignatureHandler{checker: svc.Checker, maxBody: maxBody}
		mux.Handle("POST /signature/checksignature", wrap("signature.check", check.ServeHTTP))
	}

	if svc.Issue != nil {
		h := &flowHandler[credential.IssuanceRequest, credential.IssuanceResult]{o: svc.Issue, maxBody: maxBody}
		h.mount(mux, wrap, "commitments")
	}

	if svc.StatusSocket != nil {
		mux.Handle("GET /status/{token}", wrap("status.socket", svc.StatusSocket.ServeHTTP))
		mux.Handle("GET /api/v1/status/{token}", wrap("status.socket", svc.StatusSocket.ServeHTTP))
	}

	var handler http.Handler = mux
	handler = clientip.Middleware(cfg.HTTP.TrustForwardedFor)(handler)
	handler = corsMiddleware(cfg.HTTP.AllowedOrigins)(handler)
	handler = responsewriter.ResponseWriterMiddleware(handler)

	return handler
}

// createHTTPServer creates an API http server using the given config
func createHTTPServer(ctx context.Context, cfg *config.Config, svc *Services, meter metric.Meter) (*http.Server, error) {
	meters, err := initMeters(ctx, meter)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: newHandler(cfg, svc, meters),
	}, nil
}

// StartHTTPServer serves the broker API until ctx is done.
func StartHTTPServer(ctx context.Context, cfg *config.Config, svc *Services, meter metric.Meter) error {
	server, err := createHTTPServer(ctx, cfg, svc, meter)
	if err != nil {
		return err
	}

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
