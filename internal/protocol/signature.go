package protocol

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
	"github.com/openkcm/anoncred-broker/internal/session"
)

const signatureResultSubject = "abs_result"

// Signature is the flow in which the holder signs a message with attributes.
type Signature struct {
	engine     credential.Engine
	metadata   credential.Metadata
	authorizer *authz.Authorizer
}

var _ = Flow[credential.SignatureRequest, credential.SignatureResult](&Signature{})

func NewSignature(engine credential.Engine, metadata credential.Metadata, authorizer *authz.Authorizer) *Signature {
	return &Signature{
		engine:     engine,
		metadata:   metadata,
		authorizer: authorizer,
	}
}

func (*Signature) Name() session.Flow             { return session.FlowSignature }
func (*Signature) Action() string                 { return "signing" }
func (*Signature) RequestSubject() string         { return "signature_request" }
func (*Signature) RequestField() string           { return "absrequest" }
func (*Signature) KeyKind() authz.Kind            { return authz.KindSigner }
func (*Signature) ResultSubject() string          { return signatureResultSubject }
func (*Signature) DefaultValidity() time.Duration { return defaultResultValidity }

func (s *Signature) Validate(ctx context.Context, requester string, req credential.SignatureRequest) error {
	if len(req.Content) == 0 {
		return serviceerr.ErrMalformedPayload.WithDescription("no attributes requested")
	}
	if req.Message == "" {
		return serviceerr.ErrMalformedPayload.WithDescription("no message to sign")
	}

	attrs := req.Attributes()
	if err := checkAttributesExist(s.metadata, attrs); err != nil {
		return err
	}

	return s.authorizer.AuthorizeAttributes(ctx, authz.KindSigner, requester, attrs)
}

func (*Signature) Prepare(req *credential.SignatureRequest) error {
	return prepareNonceAndContext(&req.Nonce, &req.Context, req)
}

// Binding hands out the nonce bound to the message, so the signature covers it.
func (*Signature) Binding(req credential.SignatureRequest) (Binding, error) {
	nonce, err := credential.SignatureNonce(req.Nonce, req.Message)
	if err != nil {
		return Binding{}, err
	}

	return Binding{Nonce: nonce, Context: req.Context}, nil
}

func (s *Signature) Process(ctx context.Context, sub Submission[credential.SignatureRequest]) (credential.SignatureResult, error) {
	return s.engine.VerifySignature(ctx, sub.Request.Request, sub.Artifact)
}

func (*Signature) Invalid() credential.SignatureResult {
	return credential.SignatureResult{DisclosureResult: credential.DisclosureResult{Status: credential.ProofInvalid}}
}

func (*Signature) Waiting() credential.SignatureResult {
	return credential.SignatureResult{DisclosureResult: credential.DisclosureResult{Status: credential.ProofWaiting}}
}

func (*Signature) Status(res credential.SignatureResult) credential.ProofStatus {
	return res.Status
}

func (*Signature) WithData(res credential.SignatureResult, data json.RawMessage) credential.SignatureResult {
	res.Data = data
	return res
}

func (*Signature) Response(res credential.SignatureResult) any {
	return res.Status
}
