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

// Disclosure is the flow in which the holder reveals attributes to a verifier.
type Disclosure struct {
	engine     credential.Engine
	metadata   credential.Metadata
	authorizer *authz.Authorizer
}

var _ = Flow[credential.DisclosureRequest, credential.DisclosureResult](&Disclosure{})

func NewDisclosure(engine credential.Engine, metadata credential.Metadata, authorizer *authz.Authorizer) *Disclosure {
	return &Disclosure{
		engine:     engine,
		metadata:   metadata,
		authorizer: authorizer,
	}
}

func (*Disclosure) Name() session.Flow             { return session.FlowVerification }
func (*Disclosure) Action() string                 { return "disclosing" }
func (*Disclosure) RequestSubject() string         { return "verification_request" }
func (*Disclosure) RequestField() string           { return "sprequest" }
func (*Disclosure) KeyKind() authz.Kind            { return authz.KindVerifier }
func (*Disclosure) ResultSubject() string          { return "disclosure_result" }
func (*Disclosure) DefaultValidity() time.Duration { return defaultResultValidity }

func (d *Disclosure) Validate(ctx context.Context, requester string, req credential.DisclosureRequest) error {
	if len(req.Content) == 0 {
		return serviceerr.ErrMalformedPayload.WithDescription("no attributes requested")
	}

	attrs := req.Attributes()
	if err := checkAttributesExist(d.metadata, attrs); err != nil {
		return err
	}

	return d.authorizer.AuthorizeAttributes(ctx, authz.KindVerifier, requester, attrs)
}

func (*Disclosure) Prepare(req *credential.DisclosureRequest) error {
	return prepareNonceAndContext(&req.Nonce, &req.Context, req)
}

func (*Disclosure) Binding(req credential.DisclosureRequest) (Binding, error) {
	return Binding{Nonce: req.Nonce, Context: req.Context}, nil
}

func (d *Disclosure) Process(ctx context.Context, sub Submission[credential.DisclosureRequest]) (credential.DisclosureResult, error) {
	return d.engine.VerifyDisclosure(ctx, sub.Request.Request, sub.Artifact)
}

func (*Disclosure) Invalid() credential.DisclosureResult {
	return credential.DisclosureResult{Status: credential.ProofInvalid}
}

func (*Disclosure) Waiting() credential.DisclosureResult {
	return credential.DisclosureResult{Status: credential.ProofWaiting}
}

func (*Disclosure) Status(res credential.DisclosureResult) credential.ProofStatus {
	return res.Status
}

func (*Disclosure) WithData(res credential.DisclosureResult, data json.RawMessage) credential.DisclosureResult {
	res.Data = data
	return res
}

func (*Disclosure) Response(res credential.DisclosureResult) any {
	return res.Status
}

func checkAttributesExist(metadata credential.Metadata, attrs []credential.AttributeIdentifier) error {
	for _, a := range attrs {
		if !a.Valid() || !metadata.AttributeExists(a) {
			return serviceerr.ErrAttributesWrong.WithDescription("unknown attribute %s", a)
		}
	}

	return nil
}
