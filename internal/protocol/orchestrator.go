package protocol

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/historian"
	"github.com/openkcm/anoncred-broker/internal/jwtcodec"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
	"github.com/openkcm/anoncred-broker/internal/session"
)

// Recorder receives an event per issued credential.
type Recorder interface {
	Record(e historian.Event)
}

type options struct {
	maxAge        time.Duration
	allowUnsigned bool
	callbacks     *Callbacks
	recorder      Recorder
	metrics       *Metrics
}

type Option func(*options)

// WithMaxRequestAge rejects signed requests issued longer ago than d.
func WithMaxRequestAge(d time.Duration) Option {
	return func(o *options) { o.maxAge = d }
}

// WithUnsignedRequests accepts requests with alg none.
func WithUnsignedRequests(allow bool) Option {
	return func(o *options) { o.allowUnsigned = allow }
}

func WithCallbacks(c *Callbacks) Option {
	return func(o *options) { o.callbacks = c }
}

func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Orchestrator drives the sessions of one flow from creation to result retrieval.
type Orchestrator[R, Res any] struct {
	flow     Flow[R, Res]
	store    *session.Store[credential.ClientRequest[R], Res]
	timeouts session.Timeouts
	parser   *jwtcodec.Parser
	sealer   *jwtcodec.Sealer
	opts     options
}

func New[R, Res any](flow Flow[R, Res], registry *session.Registry, sealer *jwtcodec.Sealer, keys jwtcodec.KeyResolver, opts ...Option) *Orchestrator[R, Res] {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.callbacks == nil {
		o.callbacks = NewCallbacks(nil, 0)
	}

	return &Orchestrator[R, Res]{
		flow:     flow,
		store:    session.NewStore[credential.ClientRequest[R], Res](registry, flow.Name()),
		timeouts: registry.Timeouts(),
		parser: &jwtcodec.Parser{
			Subject:       flow.RequestSubject(),
			Field:         flow.RequestField(),
			Kind:          string(flow.KeyKind()),
			MaxAge:        o.maxAge,
			AllowUnsigned: o.allowUnsigned,
			Keys:          keys,
		},
		sealer: sealer,
		opts:   o,
	}
}

type flowSession[R, Res any] = session.Session[credential.ClientRequest[R], Res]

func (o *Orchestrator[R, Res]) Flow() session.Flow {
	return o.flow.Name()
}

// Create validates a signed request and starts a session for it.
func (o *Orchestrator[R, Res]) Create(ctx context.Context, signedRequest string) (QR, error) {
	ctx = slogctx.With(ctx, slog.String("flow", string(o.flow.Name())))

	var req credential.ClientRequest[R]
	parsed, err := o.parser.Parse(signedRequest, &req)
	if err != nil {
		slogctx.Info(ctx, "Rejected session request", slog.String("error", err.Error()))
		return QR{}, err
	}
	ctx = slogctx.With(ctx, slog.String("requester", parsed.Issuer))

	if err := o.flow.Validate(ctx, parsed.Issuer, req.Request); err != nil {
		slogctx.Info(ctx, "Rejected session request", slog.String("error", err.Error()))
		return QR{}, err
	}

	if req.Timeout <= 0 {
		req.Timeout = int(o.timeouts.TokenGet / time.Second)
	}
	if req.Validity <= 0 {
		req.Validity = int(o.flow.DefaultValidity() / time.Second)
	}
	if err := o.flow.Prepare(&req.Request); err != nil {
		return QR{}, err
	}

	token, err := o.store.NewToken()
	if err != nil {
		return QR{}, err
	}

	s := session.New[credential.ClientRequest[R], Res](token, o.flow.Name(), parsed.Issuer, signedRequest, req,
		time.Duration(req.Timeout)*time.Second)
	if err := o.store.Put(s); err != nil {
		return QR{}, err
	}

	o.opts.metrics.sessionCreated(ctx, o.flow.Name())
	slogctx.Info(ctx, "Session created", slog.String("token", token))

	return QR{
		Version:    MinVersion,
		MaxVersion: MaxVersion,
		Token:      token,
		Action:     o.flow.Action(),
	}, nil
}

// Get hands the protocol request to the holder's client and marks the session CONNECTED.
func (o *Orchestrator[R, Res]) Get(ctx context.Context, token, minVersion, maxVersion string) (R, string, error) {
	var zero R

	s, err := o.store.Get(token)
	if err != nil {
		return zero, "", err
	}

	version, err := negotiateVersion(minVersion, maxVersion)
	if err != nil {
		return zero, "", o.fail(ctx, s, err)
	}

	if err := s.Connect(version); err != nil {
		return zero, "", o.fail(ctx, s, err)
	}

	return s.Request().Request, version, nil
}

// GetJWT is Get for clients that want to see the requester's signed request.
func (o *Orchestrator[R, Res]) GetJWT(ctx context.Context, token, clientVersion string) (JWTRequest, error) {
	s, err := o.store.Get(token)
	if err != nil {
		return JWTRequest{}, err
	}

	version, err := checkVersion(clientVersion)
	if err != nil {
		return JWTRequest{}, o.fail(ctx, s, err)
	}

	b, err := o.flow.Binding(s.Request().Request)
	if err != nil {
		return JWTRequest{}, serviceerr.ErrUnknown.WithDescription("binding the session: %v", err)
	}

	if err := s.Connect(version); err != nil {
		return JWTRequest{}, o.fail(ctx, s, err)
	}

	return JWTRequest{
		JWT:        s.JWT(),
		Nonce:      b.Nonce,
		Context:    b.Context,
		PublicKeys: b.PublicKeys,
	}, nil
}

// Status reports the session status. Observing CANCELLED ends the session.
func (o *Orchestrator[R, Res]) Status(_ context.Context, token string) (session.Status, error) {
	s, err := o.store.Get(token)
	if err != nil {
		return "", err
	}

	status := s.Status()
	if status == session.StatusCancelled {
		s.Close()
	}

	return status, nil
}

// StatusJWT is Status sealed into a token.
func (o *Orchestrator[R, Res]) StatusJWT(ctx context.Context, token string) (string, error) {
	status, err := o.Status(ctx, token)
	if err != nil {
		return "", err
	}

	return o.sealer.Seal(statusSubject, statusClaims{Status: status}, o.timeouts.ClientGet)
}

// Submit processes the holder's artifact. Engine failures yield an INVALID result, not an error.
func (o *Orchestrator[R, Res]) Submit(ctx context.Context, token string, artifact json.RawMessage, origin string) (any, error) {
	ctx = slogctx.With(ctx, slog.String("flow", string(o.flow.Name())))

	s, err := o.store.Get(token)
	if err != nil {
		return nil, err
	}

	if err := s.BeginSubmit(); err != nil {
		// a concurrent submission in progress must not be cancelled
		if s.Status() == session.StatusInitialized {
			return nil, o.fail(ctx, s, err)
		}
		return nil, err
	}

	req := s.Request()
	res, err := o.flow.Process(ctx, Submission[R]{Request: req, Version: s.Version(), Artifact: artifact})
	if err != nil {
		slogctx.Warn(ctx, "Processing submission failed", slog.String("error", err.Error()))
		res = o.flow.Invalid()
	}

	if err := s.Complete(res); err != nil {
		return nil, err
	}

	status := o.flow.Status(res)
	slogctx.Info(ctx, "Received submission", slog.String("token", token), slog.String("status", string(status)))
	o.opts.metrics.sessionCompleted(ctx, o.flow.Name(), status, s.CreatedAt())
	o.record(res, origin)

	if req.CallbackURL != "" {
		sealed, err := o.seal(s, res)
		if err != nil {
			slogctx.Error(ctx, "Sealing result for callback failed", slog.String("error", err.Error()))
		} else {
			o.opts.callbacks.Deliver(ctx, req.CallbackURL, token, sealed)
		}
	}

	return o.flow.Response(res), nil
}

// Result returns the result, or a WAITING placeholder while there is none.
// Returning a real result ends the session.
func (o *Orchestrator[R, Res]) Result(_ context.Context, token string) (Res, error) {
	s, err := o.store.Get(token)
	if err != nil {
		var zero Res
		return zero, err
	}

	return o.takeResult(s, nil)
}

// SealedResult is Result sealed into a token valid for the request's validity.
func (o *Orchestrator[R, Res]) SealedResult(_ context.Context, token string) (string, error) {
	s, err := o.store.Get(token)
	if err != nil {
		return "", err
	}

	var sealed string
	seal := func(res Res) error {
		var err error
		sealed, err = o.seal(s, res)
		return err
	}

	// the session only ends once its result was sealed
	res, err := o.takeResult(s, seal)
	if err != nil {
		return "", err
	}
	if sealed == "" {
		if err := seal(res); err != nil {
			return "", err
		}
	}

	return sealed, nil
}

// Delete cancels or ends a session on behalf of the requester.
func (o *Orchestrator[R, Res]) Delete(ctx context.Context, token string) error {
	s, err := o.store.Get(token)
	if err != nil {
		return err
	}

	if s.Status() == session.StatusConnected && s.Cancel() {
		// without a live observer the cancellation is reported through the next status poll
		if s.ObserverConnected() {
			s.Close()
		}
		slogctx.Info(ctx, "Session cancelled by requester", slog.String("token", token))

		return nil
	}

	s.Close()

	return nil
}

// takeResult returns the result with the requester's data, or WAITING while
// there is none. A real result closes the session once keep accepted it.
func (o *Orchestrator[R, Res]) takeResult(s *flowSession[R, Res], keep func(Res) error) (Res, error) {
	res, ok, err := s.TakeResult(keep)
	if err != nil {
		var zero Res
		return zero, err
	}
	if !ok {
		return o.flow.WithData(o.flow.Waiting(), s.Request().Data), nil
	}

	return o.flow.WithData(res, s.Request().Data), nil
}

func (o *Orchestrator[R, Res]) seal(s *flowSession[R, Res], res Res) (string, error) {
	res = o.flow.WithData(res, s.Request().Data)
	validity := time.Duration(s.Request().Validity) * time.Second

	return o.sealer.Seal(o.flow.ResultSubject(), res, validity)
}

// fail cancels the session after a request that is not valid in its state and
// informs the requester's callback. It returns err.
func (o *Orchestrator[R, Res]) fail(ctx context.Context, s *flowSession[R, Res], err error) error {
	if !s.Cancel() {
		return err
	}
	slogctx.Warn(ctx, "Session cancelled", slog.String("token", s.Token()), slog.String("error", err.Error()))

	callbackURL := s.Request().CallbackURL
	if callbackURL == "" {
		return err
	}

	sealed, serr := o.sealer.Seal(statusSubject, statusClaims{Status: session.StatusCancelled}, o.timeouts.ClientGet)
	if serr != nil {
		slogctx.Error(ctx, "Sealing status for callback failed", slog.String("error", serr.Error()))
		return err
	}
	o.opts.callbacks.Deliver(ctx, callbackURL, s.Token(), sealed)

	return err
}

func (o *Orchestrator[R, Res]) record(res Res, origin string) {
	if o.opts.recorder == nil {
		return
	}

	src, ok := o.flow.(EventSource[Res])
	if !ok {
		return
	}

	for _, subject := range src.Events(res) {
		o.opts.recorder.Record(historian.Event{Subject: subject, Origin: origin})
	}
}
