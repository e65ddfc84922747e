// Package voice transcribes uploaded audio through a background queue.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var ErrTranscriberNotConfigured = errors.New("VOICE_TRANSCRIBE_URL is not set")

type Transcriber interface {
	Transcribe(ctx context.Context, audioURL, language string) (string, error)
}

// HTTPTranscriber posts {"audioUrl","language"} to a speech-to-text service and reads "text" from the reply.
type HTTPTranscriber struct {
	url    string
	client *http.Client
}

func NewHTTPTranscriber(url string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		url: url,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioURL, language string) (string, error) {
	if t.url == "" {
		return "", ErrTranscriberNotConfigured
	}
	body, _ := json.Marshal(map[string]string{"audioUrl": audioURL, "language": language})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("transcribe: read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		msg := gjson.GetBytes(reply, "error").String()
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("transcribe: %s", msg)
	}
	text := gjson.GetBytes(reply, "text")
	if !text.Exists() {
		return "", errors.New("transcribe: response has no text")
	}
	return text.String(), nil
}
