package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/orbit/internal/core"
)

const (
	DefaultTextPath  = "/api/gemini-live/translate"
	DefaultAudioPath = "/api/translate-audio"
)

// HTTPProvider talks to a translation service over HTTP: JSON for text,
// multipart form for audio batches.
type HTTPProvider struct {
	BaseURL   string
	TextPath  string
	AudioPath string
	Client    *http.Client
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPProvider{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		TextPath:  DefaultTextPath,
		AudioPath: DefaultAudioPath,
		Client:    &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Translate(ctx context.Context, req Request) (Response, error) {
	var (
		httpReq *http.Request
		err     error
	)
	if len(req.Audio) > 0 {
		httpReq, err = p.audioRequest(ctx, req)
	} else {
		httpReq, err = p.textRequest(ctx, req)
	}
	if err != nil {
		return Response{}, fmt.Errorf("%w: build request: %v", core.ErrTranslationUnavailable, err)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", core.ErrTranslationUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", core.ErrTranslationUnavailable, err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &e)
		return Response{}, fmt.Errorf("%w: status %d %s", core.ErrTranslationUnavailable, resp.StatusCode, e.Error)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Response{}, fmt.Errorf("%w: decode: %v", core.ErrTranslationUnavailable, err)
	}
	return out, nil
}

func (p *HTTPProvider) textRequest(ctx context.Context, req Request) (*http.Request, error) {
	b, err := json.Marshal(map[string]string{
		"text":           req.Text,
		"sourceLanguage": req.SourceLanguage,
		"targetLanguage": req.TargetLanguage,
	})
	if err != nil {
		return nil, err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+p.TextPath, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", "application/json")
	return r, nil
}

func (p *HTTPProvider) audioRequest(ctx context.Context, req Request) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, err
	}
	_ = mw.WriteField("sourceLanguage", req.SourceLanguage)
	_ = mw.WriteField("targetLanguage", req.TargetLanguage)
	if err := mw.Close(); err != nil {
		return nil, err
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+p.AudioPath, &buf)
	if err != nil {
		return nil, err
	}
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r, nil
}
