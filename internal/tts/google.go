package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// GoogleClient synthesizes Bangla speech with Google Cloud Text-to-Speech.
// Credentials come from application default credentials.
type GoogleClient struct {
	client *texttospeech.Client
	voice  string
	locale string
}

// NewGoogleClient dials the Text-to-Speech API. voice is a full voice name
// such as "bn-IN-Wavenet-A"; its locale prefix selects the language.
func NewGoogleClient(ctx context.Context, voice string) (*GoogleClient, error) {
	if voice == "" {
		voice = "bn-IN-Wavenet-A"
	}
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google tts: create client: %w", err)
	}
	locale := "bn-IN"
	if len(voice) >= 5 {
		locale = voice[:5]
	}
	return &GoogleClient{client: client, voice: voice, locale: locale}, nil
}

// StreamPCM48k synthesizes the full text and delivers it as 48kHz PCM
// chunks. The API is not streaming; chunking keeps the sink interface
// uniform across backends.
func (g *GoogleClient) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if text == "" {
			return
		}
		resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
			},
			Voice: &texttospeechpb.VoiceSelectionParams{
				LanguageCode: g.locale,
				Name:         g.voice,
			},
			AudioConfig: &texttospeechpb.AudioConfig{
				AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
				SampleRateHertz: 48000,
			},
		})
		if err != nil {
			errCh <- fmt.Errorf("google tts: synthesize: %w", err)
			return
		}
		pcm := StripWAVHeader(resp.AudioContent)
		const chunkBytes = 4096
		for off := 0; off < len(pcm); off += chunkBytes {
			end := off + chunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			chunk := make([]byte, end-off)
			copy(chunk, pcm[off:end])
			select {
			case pcmCh <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return pcmCh, errCh
}

// Close releases the underlying gRPC connection.
func (g *GoogleClient) Close() error { return g.client.Close() }
