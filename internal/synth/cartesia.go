// Package synth contains the speech-synthesis backend clients. The rest of
// the system only sees ports.SynthesisClient.
package synth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/stem"
)

var (
	ssmlRe  = regexp.MustCompile(`<[^>]+>`)
	voiceRe = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}(-[A-Za-z0-9_-]{4,})*$`)
)

// CartesiaClient calls the Cartesia /tts/bytes endpoint and enforces the
// audio contract on the request side: transcripts are plain text, the
// output format is pinned, and the voice id must be well-formed.
type CartesiaClient struct {
	url      string
	apiKey   string
	version  string
	contract stem.Contract
	http     *http.Client
	retry    RetryPolicy
	log      *zap.Logger
}

// NewCartesiaClient builds the client. The caller supplies the retry
// policy; the client itself never retries implicitly.
func NewCartesiaClient(url, apiKey, version string, contract stem.Contract, retry RetryPolicy, log *zap.Logger) *CartesiaClient {
	return &CartesiaClient{
		url:      url,
		apiKey:   apiKey,
		version:  version,
		contract: contract,
		http:     &http.Client{Timeout: 60 * time.Second},
		retry:    retry,
		log:      log,
	}
}

type cartesiaPayload struct {
	Transcript string `json:"transcript"`
	Voice      struct {
		Mode string `json:"mode"`
		ID   string `json:"id"`
	} `json:"voice"`
	GenerationConfig struct {
		Speed  float64 `json:"speed"`
		Volume float64 `json:"volume"`
	} `json:"generation_config"`
	OutputFormat struct {
		Container  string `json:"container"`
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sample_rate"`
	} `json:"output_format"`
	ModelID string `json:"model_id"`
}

// buildPayload validates the transcript and voice and assembles the
// request body.
func (c *CartesiaClient) buildPayload(text, voiceID string) (*cartesiaPayload, error) {
	if text == "" {
		return nil, errs.Validation("transcript", "transcript must be a non-empty string")
	}
	if ssmlRe.MatchString(text) {
		return nil, errs.Validation("transcript", "markup is not allowed in transcripts")
	}
	if !voiceRe.MatchString(voiceID) {
		return nil, errs.Validation("voice", "voice %q is not well-formed", voiceID)
	}

	p := &cartesiaPayload{Transcript: text, ModelID: c.contract.ModelID}
	p.Voice.Mode = "id"
	p.Voice.ID = voiceID
	p.GenerationConfig.Speed = 1.0
	p.GenerationConfig.Volume = 1.0
	p.OutputFormat.Container = c.contract.Container
	p.OutputFormat.Encoding = c.contract.Encoding
	p.OutputFormat.SampleRate = c.contract.SampleRate
	return p, nil
}

// Synthesize renders text to raw contract-format bytes, retrying only the
// transient failure classes the policy allows.
func (c *CartesiaClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	payload, err := c.buildPayload(text, voiceID)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var out []byte
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		raw, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		out = raw
		return nil
	})
	return out, err
}

func (c *CartesiaClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", c.version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.External("cartesia", "request failed", true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		detail := parseAPIError(raw)
		transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		c.log.Warn("cartesia request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("detail", detail),
			zap.Bool("transient", transient))
		return nil, errs.External("cartesia",
			fmt.Sprintf("status %d: %s", resp.StatusCode, detail), transient, nil)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.External("cartesia", "read response", true, err)
	}
	return raw, nil
}

func parseAPIError(raw []byte) string {
	var resp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &resp); err == nil {
		if resp.Message != "" {
			return resp.Message
		}
		if resp.Error != "" {
			return resp.Error
		}
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
