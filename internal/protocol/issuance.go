package protocol

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/openkcm/anoncred-broker/internal/authz"
	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
	"github.com/openkcm/anoncred-broker/internal/session"
)

// Issuance is the flow in which an issuer gives the holder new credentials,
// optionally after the holder disclosed attributes.
type Issuance struct {
	engine                  credential.Engine
	metadata                credential.Metadata
	authorizer              *authz.Authorizer
	rejectUnflooredValidity bool
}

var (
	_ = Flow[credential.IssuanceRequest, credential.IssuanceResult](&Issuance{})
	_ = EventSource[credential.IssuanceResult](&Issuance{})
)

func NewIssuance(engine credential.Engine, metadata credential.Metadata, authorizer *authz.Authorizer, rejectUnflooredValidity bool) *Issuance {
	return &Issuance{
		engine:                  engine,
		metadata:                metadata,
		authorizer:              authorizer,
		rejectUnflooredValidity: rejectUnflooredValidity,
	}
}

func (*Issuance) Name() session.Flow             { return session.FlowIssue }
func (*Issuance) Action() string                 { return "issuing" }
func (*Issuance) RequestSubject() string         { return "issue_request" }
func (*Issuance) RequestField() string           { return "iprequest" }
func (*Issuance) KeyKind() authz.Kind            { return authz.KindIssuer }
func (*Issuance) ResultSubject() string          { return "issue_result" }
func (*Issuance) DefaultValidity() time.Duration { return issueResultValidity }

// Validate runs every check that could make the issuance fail, so that no token is handed out for it.
func (i *Issuance) Validate(ctx context.Context, requester string, req credential.IssuanceRequest) error {
	if len(req.Credentials) == 0 {
		return serviceerr.ErrMalformedPayload.WithDescription("no credentials to issue")
	}

	ids := make([]credential.CredentialIdentifier, 0, len(req.Credentials))
	for _, c := range req.Credentials {
		if !c.Credential.Valid() {
			return serviceerr.ErrMalformedPayload.WithDescription("malformed credential identifier %q", c.Credential)
		}
		ids = append(ids, c.Credential)
	}

	if err := i.authorizer.AuthorizeCredentials(ctx, requester, ids); err != nil {
		return err
	}

	var keyshare credential.SchemeManager
	for _, c := range req.Credentials {
		scheme := c.Credential.SchemeManager()
		if i.metadata.Distributed(scheme) {
			if keyshare == "" {
				keyshare = scheme
			} else if keyshare != scheme {
				return serviceerr.ErrMalformedPayload.WithDescription("credentials of more than one keyshare scheme")
			}
		}

		if _, err := i.currentKey(c.Credential.Issuer()); err != nil {
			return err
		}

		if i.rejectUnflooredValidity && !c.ValidityFloored() {
			return serviceerr.ErrInvalidTimestamp.WithDescription("epoch length %d", int64(credential.ValidityEpoch/time.Second))
		}
	}

	for _, c := range req.Credentials {
		if err := i.checkCredentialAttributes(c); err != nil {
			return err
		}
	}

	return checkAttributesExist(i.metadata, req.DisclosedAttributes())
}

// checkCredentialAttributes requires exactly the attributes of the credential type.
func (i *Issuance) checkCredentialAttributes(c credential.CredentialRequest) error {
	want, ok := i.metadata.CredentialAttributes(c.Credential)
	if !ok {
		return serviceerr.ErrAttributesWrong.WithDescription("unknown credential %s", c.Credential)
	}

	got := slices.Sorted(maps.Keys(c.Attributes))
	if !slices.Equal(slices.Sorted(slices.Values(want)), got) {
		return serviceerr.ErrAttributesWrong.WithDescription("attributes of %s do not match", c.Credential)
	}

	return nil
}

// currentKey returns the counter of the issuer's latest key, which must come with a secret key.
func (i *Issuance) currentKey(issuer credential.IssuerIdentifier) (int, error) {
	counter, ok := i.metadata.LatestKeyCounter(issuer)
	if !ok {
		return 0, serviceerr.ErrCannotIssue.WithDescription("no public key for issuer %s", issuer)
	}
	if !i.metadata.HasSecretKey(issuer, counter) {
		return 0, serviceerr.ErrCannotIssue.WithDescription("no secret key %d for issuer %s", counter, issuer)
	}

	return counter, nil
}

// Prepare pins every credential to its issuer's current key, whatever counter the requester sent.
func (i *Issuance) Prepare(req *credential.IssuanceRequest) error {
	for n := range req.Credentials {
		counter, err := i.currentKey(req.Credentials[n].Credential.Issuer())
		if err != nil {
			return err
		}
		req.Credentials[n].KeyCounter = counter
	}

	return prepareNonceAndContext(&req.Nonce, &req.Context, req)
}

func (*Issuance) Binding(req credential.IssuanceRequest) (Binding, error) {
	return Binding{Nonce: req.Nonce, Context: req.Context, PublicKeys: req.PublicKeys()}, nil
}

// Process verifies the commitments and any required disclosure before creating the signatures.
func (i *Issuance) Process(ctx context.Context, sub Submission[credential.IssuanceRequest]) (credential.IssuanceResult, error) {
	req := sub.Request.Request

	disclosed, err := i.engine.VerifyCommitments(ctx, req, sub.Version, sub.Artifact)
	if err != nil {
		return credential.IssuanceResult{}, err
	}
	if disclosed.Status != credential.ProofValid {
		return credential.IssuanceResult{Status: disclosed.Status, Attributes: disclosed.Attributes}, nil
	}

	sigs, err := i.engine.IssueSignatures(ctx, req, sub.Version, sub.Artifact)
	if err != nil {
		return credential.IssuanceResult{}, err
	}

	creds := make([]credential.CredentialIdentifier, 0, len(req.Credentials))
	for _, c := range req.Credentials {
		creds = append(creds, c.Credential)
	}

	return credential.IssuanceResult{
		Status:      credential.ProofValid,
		Attributes:  disclosed.Attributes,
		Credentials: creds,
		Signatures:  sigs,
	}, nil
}

func (*Issuance) Invalid() credential.IssuanceResult {
	return credential.IssuanceResult{Status: credential.ProofInvalid}
}

func (*Issuance) Waiting() credential.IssuanceResult {
	return credential.IssuanceResult{Status: credential.ProofWaiting}
}

func (*Issuance) Status(res credential.IssuanceResult) credential.ProofStatus {
	return res.Status
}

func (*Issuance) WithData(res credential.IssuanceResult, data json.RawMessage) credential.IssuanceResult {
	res.Data = data
	return res
}

func (*Issuance) Response(res credential.IssuanceResult) any {
	return credential.IssuanceResponse{Status: res.Status, Signatures: res.Signatures}
}

// Events returns one subject per issued credential.
func (*Issuance) Events(res credential.IssuanceResult) []string {
	if res.Status != credential.ProofValid || len(res.Signatures) == 0 {
		return nil
	}

	out := make([]string, 0, len(res.Credentials))
	for _, c := range res.Credentials {
		out = append(out, string(c))
	}

	return out
}
