package synth

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/errs"
)

// OpenAIClient is the alternate synthesis backend. The API returns WAV
// directly when asked, so the response feeds the same validation path as
// the primary backend.
type OpenAIClient struct {
	client *openai.Client
	model  openai.SpeechModel
	retry  RetryPolicy
	log    *zap.Logger
}

func NewOpenAIClient(apiKey string, retry RetryPolicy, log *zap.Logger) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  openai.TTSModel1HD,
		retry:  retry,
		log:    log,
	}
}

// Synthesize renders text with the given voice. The voice id must be one
// of the API's named voices; anything else is rejected before the call.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, errs.Validation("transcript", "transcript must be a non-empty string")
	}
	if ssmlRe.MatchString(text) {
		return nil, errs.Validation("transcript", "markup is not allowed in transcripts")
	}

	var out []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          c.model,
			Input:          text,
			Voice:          openai.SpeechVoice(voiceID),
			ResponseFormat: openai.SpeechResponseFormatWav,
		})
		if err != nil {
			// The SDK does not expose status codes uniformly, so
			// treat transport-level failures as retryable.
			return errs.External("openai", "speech request failed", true, err)
		}
		defer resp.Close()

		raw, err := io.ReadAll(resp)
		if err != nil {
			return errs.External("openai", "read speech response", true, err)
		}
		out = raw
		return nil
	})
	return out, err
}
