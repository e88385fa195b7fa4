// Package deepgram provides a Deepgram-backed STT provider. Each utterance is
// streamed over the Deepgram live WebSocket API as linear16 PCM, the stream is
// closed, and the final transcripts Deepgram flushes back are joined into one
// result.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkBytes is 250 ms of 16 kHz mono linear16.
	chunkBytes = 8000

	// keywordBoost is the intensifier applied to every command phrase.
	keywordBoost = 2
)

// Ensure Provider implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Transcriber backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe sends req over a fresh WebSocket session and waits for Deepgram
// to close it after flushing the final results.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}

	wsURL, err := p.buildURL(req)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	pcm := audio.Int16ToPCM(audio.Float32ToInt16(req.Samples))
	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return stt.Result{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	// Ask Deepgram to flush pending audio and close the stream.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	var finals []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}
		text, final, ok := parseDeepgramResponse(msg)
		if !ok || !final || text == "" {
			continue
		}
		finals = append(finals, text)
	}
	return stt.Result{Text: strings.Join(finals, " ")}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	sr := req.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")

	for _, kw := range req.Keywords {
		// Deepgram keyword format: word:boost (e.g., "bible:2")
		q.Add("keywords", fmt.Sprintf("%s:%d", kw, keywordBoost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse extracts the top alternative from a raw Deepgram
// message. ok is false if the message should be ignored.
func parseDeepgramResponse(data []byte) (text string, final bool, ok bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" {
		return "", false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return resp.Channel.Alternatives[0].Transcript, resp.IsFinal, true
}
