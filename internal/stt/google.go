package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

// GoogleRecognizer uses Google Cloud Speech-to-Text for Bangla recognition.
// Credentials come from application default credentials.
type GoogleRecognizer struct {
	client *speech.Client
	locale string
}

// NewGoogleRecognizer dials the Speech API. locale selects the recognition
// language, e.g. "bn-BD" or "bn-IN".
func NewGoogleRecognizer(ctx context.Context, locale string) (*GoogleRecognizer, error) {
	if locale == "" {
		locale = "bn-BD"
	}
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google stt: create client: %w", err)
	}
	return &GoogleRecognizer{client: client, locale: locale}, nil
}

// Recognize runs synchronous recognition over the utterance.
func (g *GoogleRecognizer) Recognize(ctx context.Context, pcm16k []byte) (string, error) {
	if len(pcm16k) == 0 {
		return "", nil
	}
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: 16000,
			LanguageCode:    g.locale,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: pcm16k},
		},
	})
	if err != nil {
		return "", fmt.Errorf("google stt: recognize: %w", err)
	}
	var b strings.Builder
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(result.Alternatives[0].Transcript)
	}
	return strings.TrimSpace(b.String()), nil
}

// Close releases the underlying gRPC connection.
func (g *GoogleRecognizer) Close() error { return g.client.Close() }
