// Package webhook authenticates inbound provider callbacks before they touch
// any state.
package webhook

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"voicebridge/pkg/logger"

	twclient "github.com/twilio/twilio-go/client"
)

// Mode selects what the provider signed for a given endpoint.
type Mode string

const (
	// ModeForm verifies over the request URL plus the parsed form parameters.
	ModeForm Mode = "form"
	// ModeJSON and ModeRaw verify over the URL plus the raw body bytes; the
	// provider appends a bodySHA256 query parameter to the signed URL.
	ModeJSON Mode = "json"
	ModeRaw  Mode = "raw"
)

const SignatureHeader = "X-Twilio-Signature"

var (
	ErrMissingSignature = errors.New("webhook: missing signature header")
	ErrBadSignature     = errors.New("webhook: signature mismatch")
	ErrNoSecret         = errors.New("webhook: signing secret not configured")
)

// Verifier checks provider webhook signatures. Comparison is exact-match
// (the underlying validator uses constant-time comparison); there is no
// partial credit.
type Verifier struct {
	validator twclient.RequestValidator
	hasSecret bool

	// devBypass permits running without a secret in a declared development
	// mode only. Every bypassed request is logged. Outside development the
	// process refuses to start without a secret (config validation), so a
	// missing secret here fails closed.
	devBypass bool
}

func NewVerifier(secret string, devBypass bool) *Verifier {
	return &Verifier{
		validator: twclient.NewRequestValidator(secret),
		hasSecret: secret != "",
		devBypass: devBypass,
	}
}

// Verify authenticates one request. The request body remains readable by the
// handler afterwards. A missing signature header is always a failure, never
// an implicit bypass.
func (v *Verifier) Verify(r *http.Request, mode Mode) error {
	if !v.hasSecret {
		if v.devBypass {
			logger.From(r.Context()).Warn("webhook signature verification bypassed (dev mode, no secret)",
				"path", r.URL.Path)
			return nil
		}
		return ErrNoSecret
	}

	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		return ErrMissingSignature
	}

	url := requestURL(r)

	switch mode {
	case ModeForm:
		if err := r.ParseForm(); err != nil {
			return ErrBadSignature
		}
		params := make(map[string]string, len(r.PostForm))
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				params[k] = vs[0]
			}
		}
		if !v.validator.Validate(url, params, sig) {
			return ErrBadSignature
		}
		return nil
	case ModeJSON, ModeRaw:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return ErrBadSignature
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if !v.validator.ValidateBody(url, body, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return ErrBadSignature
	}
}

// requestURL reconstructs the exact public URL the provider signed. The
// service runs behind a TLS-terminating proxy, so the forwarded proto wins
// over the local connection state.
func requestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
