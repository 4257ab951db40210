package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openkcm/anoncred-broker/internal/credential"
	"github.com/openkcm/anoncred-broker/internal/middleware/clientip"
	"github.com/openkcm/anoncred-broker/internal/protocol"
	"github.com/openkcm/anoncred-broker/internal/serviceerr"
)

const (
	headerMinVersion = "X-IRMA-MinProtocolVersion"
	headerMaxVersion = "X-IRMA-MaxProtocolVersion"
	headerVersion    = "X-IRMA-ProtocolVersion"
)

// flowHandler exposes one orchestrator over HTTP.
type flowHandler[R, Res any] struct {
	o       *protocol.Orchestrator[R, Res]
	maxBody int64
}

// mount registers the routes of the flow below /<flow>. submitPath is the
// last path segment the holder posts its artifact to.
func (h *flowHandler[R, Res]) mount(mux *http.ServeMux, wrap middleware, submitPath string) {
	flow := string(h.o.Flow())
	p := "/" + flow

	mux.Handle("POST "+p, wrap(flow+".create", h.create))
	mux.Handle("POST "+p+"/{$}", wrap(flow+".create", h.create))
	mux.Handle("GET "+p+"/{token}", wrap(flow+".get", h.get))
	mux.Handle("GET "+p+"/{token}/jwt", wrap(flow+".getjwt", h.getJWT))
	mux.Handle("GET "+p+"/{token}/status", wrap(flow+".status", h.status))
	mux.Handle("GET "+p+"/{token}/statusjwt", wrap(flow+".statusjwt", h.statusJWT))
	mux.Handle("POST "+p+"/{token}/"+submitPath, wrap(flow+".submit", h.submit))
	mux.Handle("GET "+p+"/{token}/getunsignedproof", wrap(flow+".result", h.result))
	mux.Handle("GET "+p+"/{token}/getproof", wrap(flow+".sealedresult", h.sealedResult))
	mux.Handle("DELETE "+p+"/{token}", wrap(flow+".delete", h.delete))
}

func (h *flowHandler[R, Res]) create(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	qr, err := h.o.Create(r.Context(), strings.TrimSpace(string(body)))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, qr)
}

func (h *flowHandler[R, Res]) get(w http.ResponseWriter, r *http.Request) {
	req, version, err := h.o.Get(r.Context(), r.PathValue("token"),
		r.Header.Get(headerMinVersion), r.Header.Get(headerMaxVersion))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	w.Header().Set(headerVersion, version)
	writeJSON(w, r, http.StatusOK, req)
}

func (h *flowHandler[R, Res]) getJWT(w http.ResponseWriter, r *http.Request) {
	res, err := h.o.GetJWT(r.Context(), r.PathValue("token"), r.Header.Get(headerVersion))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

func (h *flowHandler[R, Res]) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.o.Status(r.Context(), r.PathValue("token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

func (h *flowHandler[R, Res]) statusJWT(w http.ResponseWriter, r *http.Request) {
	token, err := h.o.StatusJWT(r.Context(), r.PathValue("token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeText(w, r, token)
}

func (h *flowHandler[R, Res]) submit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if !json.Valid(body) {
		WriteError(w, r, serviceerr.ErrMalformedInput.WithDescription("artifact is not JSON"))
		return
	}

	res, err := h.o.Submit(r.Context(), r.PathValue("token"), json.RawMessage(body), clientip.FromContext(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

func (h *flowHandler[R, Res]) result(w http.ResponseWriter, r *http.Request) {
	res, err := h.o.Result(r.Context(), r.PathValue("token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

func (h *flowHandler[R, Res]) sealedResult(w http.ResponseWriter, r *http.Request) {
	token, err := h.o.SealedResult(r.Context(), r.PathValue("token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeText(w, r, token)
}

func (h *flowHandler[R, Res]) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.o.Delete(r.Context(), r.PathValue("token")); err != nil {
		WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// checkSignatureHandler verifies standalone signatures. The optional date
// query parameter is a unix timestamp the signature is checked against.
type checkSignatureHandler struct {
	checker *protocol.SignatureChecker
	maxBody int64
}

func (h *checkSignatureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var at *time.Time
	if date := r.URL.Query().Get("date"); date != "" {
		unix, err := strconv.ParseInt(date, 10, 64)
		if err != nil {
			WriteError(w, r, serviceerr.ErrMalformedInput.WithDescription("date %q is not a unix timestamp", date))
			return
		}
		t := time.Unix(unix, 0)
		at = &t
	}

	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var msg credential.SignedMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		WriteError(w, r, serviceerr.ErrMalformedInput.WithDescription("signed message: %v", err))
		return
	}

	token, err := h.checker.Check(r.Context(), msg, at)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeText(w, r, token)
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, serviceerr.ErrMalformedInput.WithDescription("body larger than %d bytes", tooLarge.Limit)
		}
		return nil, serviceerr.ErrMalformedInput.WithDescription("reading body: %v", err)
	}

	return body, nil
}
