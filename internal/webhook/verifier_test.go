package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

const testSecret = "auth-token-secret"

// sign reproduces the provider's canonical signature: HMAC-SHA1 over the
// full URL plus sorted key+value pairs, base64 encoded.
func sign(fullURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(testSecret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func formRequest(t *testing.T, fullURL string, params map[string]string, sig string) *http.Request {
	t.Helper()
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	r := httptest.NewRequest(http.MethodPost, fullURL, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sig != "" {
		r.Header.Set(SignatureHeader, sig)
	}
	return r
}

func TestVerify_FormValid(t *testing.T) {
	v := NewVerifier(testSecret, false)
	full := "https://voice.example.com/webhooks/call-status"
	params := map[string]string{"CallSid": "CA1", "CallStatus": "completed"}

	r := formRequest(t, full, params, sign(full, params))
	r.Host = "voice.example.com"
	r.Header.Set("X-Forwarded-Proto", "https")

	if err := v.Verify(r, ModeForm); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerify_FormTamperedParamsFails(t *testing.T) {
	v := NewVerifier(testSecret, false)
	full := "https://voice.example.com/webhooks/call-status"
	params := map[string]string{"CallSid": "CA1", "CallStatus": "completed"}
	sig := sign(full, params)

	// Attacker flips the status after signing.
	params["CallStatus"] = "failed"
	r := formRequest(t, full, params, sig)
	r.Host = "voice.example.com"
	r.Header.Set("X-Forwarded-Proto", "https")

	if err := v.Verify(r, ModeForm); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestVerify_MissingHeaderAlwaysFails(t *testing.T) {
	v := NewVerifier(testSecret, true)
	full := "https://voice.example.com/webhooks/call-status"
	r := formRequest(t, full, map[string]string{"CallSid": "CA1"}, "")
	r.Host = "voice.example.com"
	r.Header.Set("X-Forwarded-Proto", "https")

	if err := v.Verify(r, ModeForm); err == nil {
		t.Fatalf("expected failure for missing signature header")
	}
}

func TestVerify_NoSecretFailsClosedOutsideDev(t *testing.T) {
	v := NewVerifier("", false)
	r := formRequest(t, "https://voice.example.com/x", nil, "whatever")
	if err := v.Verify(r, ModeForm); err == nil {
		t.Fatalf("expected fail-closed without secret")
	}
}

func TestVerify_NoSecretBypassedInDev(t *testing.T) {
	v := NewVerifier("", true)
	r := formRequest(t, "https://voice.example.com/x", nil, "")
	if err := v.Verify(r, ModeForm); err != nil {
		t.Fatalf("expected dev bypass, got %v", err)
	}
}

func TestVerify_RawBody(t *testing.T) {
	v := NewVerifier(testSecret, false)

	body := []byte(`{"transcript_sid":"GT1","status":"completed"}`)
	sum := sha256.Sum256(body)
	full := "https://voice.example.com/webhooks/transcript-ready?bodySHA256=" + hex.EncodeToString(sum[:])

	r := httptest.NewRequest(http.MethodPost, full, strings.NewReader(string(body)))
	r.Host = "voice.example.com"
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set(SignatureHeader, sign(full, nil))

	if err := v.Verify(r, ModeRaw); err != nil {
		t.Fatalf("expected valid raw body signature, got %v", err)
	}

	// Body must still be readable by the handler.
	buf := make([]byte, len(body))
	if _, err := r.Body.Read(buf); err != nil && err.Error() != "EOF" {
		t.Fatalf("body not restored: %v", err)
	}
	if string(buf) != string(body) {
		t.Fatalf("body corrupted after verification")
	}
}

func TestVerify_RawBodyTamperedFails(t *testing.T) {
	v := NewVerifier(testSecret, false)

	body := []byte(`{"transcript_sid":"GT1"}`)
	sum := sha256.Sum256(body)
	full := "https://voice.example.com/webhooks/transcript-ready?bodySHA256=" + hex.EncodeToString(sum[:])
	sig := sign(full, nil)

	r := httptest.NewRequest(http.MethodPost, full, strings.NewReader(`{"transcript_sid":"GT2"}`))
	r.Host = "voice.example.com"
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set(SignatureHeader, sig)

	if err := v.Verify(r, ModeRaw); err == nil {
		t.Fatalf("expected failure for tampered body")
	}
}

func TestMiddleware_RejectsWithoutStateChange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier(testSecret, false)

	handlerCalled := false
	r := gin.New()
	r.POST("/webhooks/call-status", Middleware(v, ModeForm), func(c *gin.Context) {
		handlerCalled = true
		c.Status(http.StatusOK)
	})

	req := formRequest(t, "https://voice.example.com/webhooks/call-status",
		map[string]string{"CallSid": "CA1"}, "bogus-signature")
	req.Host = "voice.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if handlerCalled {
		t.Fatalf("handler must not run on rejected delivery")
	}
}
