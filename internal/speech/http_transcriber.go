package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/orbit/internal/audio"
	"github.com/dkeye/orbit/internal/core"
)

const DefaultTranscribePath = "/api/transcribe-audio"

// HTTPTranscriber posts WAV chunks as a multipart "audio" field and reads
// back {"text": ...}.
type HTTPTranscriber struct {
	URL    string
	Client *http.Client
}

func NewHTTPTranscriber(baseURL string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTranscriber{
		URL:    strings.TrimRight(baseURL, "/") + DefaultTranscribePath,
		Client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPTranscriber) Transcribe(ctx context.Context, samples []int16, sampleRate int, locale string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "chunk.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio.EncodeWAV(samples, sampleRate)); err != nil {
		return "", err
	}
	_ = mw.WriteField("language", locale)
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := h.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrTranscriptionUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: status %d", core.ErrTranscriptionUnavailable, resp.StatusCode)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", core.ErrTranscriptionUnavailable, err)
	}
	return strings.TrimSpace(out.Text), nil
}
