package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/tbourn/unibabel/internal/lang"
)

// ProviderRequest is one outbound translation call.
type ProviderRequest struct {
	Text           string
	SourceLanguage string // lang.Auto lets the provider detect
	TargetLanguage string
}

// ProviderResponse is a successful provider answer.
type ProviderResponse struct {
	Text             string
	DetectedLanguage string
	Confidence       float64
}

// Provider renders text into another language.
type Provider interface {
	Translate(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
	// Supports reports whether the provider can render the code as-is. Base
	// languages are always supported; regional variants may not be.
	Supports(code string) bool
}

// ProviderError is a non-2xx provider answer.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether another attempt could succeed. 5xx are transient;
// every 4xx is terminal.
func (e *ProviderError) Retryable() bool { return e.Status >= 500 }

// ErrProviderNotConfigured is returned by a provider without an endpoint.
var ErrProviderNotConfigured = errors.New("translation provider not configured")

// HTTPProvider calls a JSON translation endpoint:
//
//	POST {url}  {"text","source_lang","target_lang"}
//	200         {"translated_text","detected_source_language","confidence"}
type HTTPProvider struct {
	url      string
	key      string
	client   *http.Client
	variants map[string]bool
}

// NewHTTPProvider builds a client for url. variants lists the regional codes
// the provider renders natively.
func NewHTTPProvider(url, key string, variants []string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	vs := make(map[string]bool, len(variants))
	for _, v := range variants {
		if n := lang.Normalize(v); n != "" {
			vs[n] = true
		}
	}
	return &HTTPProvider{url: strings.TrimSpace(url), key: key, client: client, variants: vs}
}

// Supports implements Provider.
func (p *HTTPProvider) Supports(code string) bool {
	code = lang.Normalize(code)
	if code == "" {
		return false
	}
	if lang.Base(code) == code {
		return true
	}
	return p.variants[code]
}

type wireRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

type wireResponse struct {
	TranslatedText   string   `json:"translated_text"`
	DetectedLanguage string   `json:"detected_source_language"`
	Confidence       *float64 `json:"confidence"`
}

// Translate implements Provider. The caller's context bounds the attempt.
func (p *HTTPProvider) Translate(ctx context.Context, req ProviderRequest) (ProviderResponse, error) {
	if p.url == "" {
		return ProviderResponse{}, ErrProviderNotConfigured
	}
	body, err := json.Marshal(wireRequest{Text: req.Text, SourceLang: req.SourceLanguage, TargetLang: req.TargetLanguage})
	if err != nil {
		return ProviderResponse{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return ProviderResponse{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "application/json")
	if p.key != "" {
		hreq.Header.Set("Authorization", "Bearer "+p.key)
	}

	resp, err := p.client.Do(hreq)
	if err != nil {
		return ProviderResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ProviderResponse{}, &ProviderError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out wireResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		// A 200 with a body we cannot read is as bad as a 502.
		return ProviderResponse{}, &ProviderError{Status: http.StatusBadGateway, Body: "malformed response: " + err.Error()}
	}
	conf := 0.9
	if out.Confidence != nil {
		conf = *out.Confidence
	}
	return ProviderResponse{
		Text:             out.TranslatedText,
		DetectedLanguage: lang.Normalize(out.DetectedLanguage),
		Confidence:       conf,
	}, nil
}

// retryable classifies an attempt error: provider 5xx, timeouts and
// transport failures are worth another try, anything else is terminal.
func retryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	if errors.Is(err, ErrProviderNotConfigured) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return !errors.Is(err, context.Canceled)
}
