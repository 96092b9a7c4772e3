package tts

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultEdgeEndpoint is the Edge browser read-aloud synthesis service.
const DefaultEdgeEndpoint = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"

const edgeTrustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

// Bangla voices known to work with the Edge service:
// bn-IN-BashkarNeural, bn-IN-TanishaaNeural, bn-BD-NabanitaNeural,
// bn-BD-PradeepNeural.
type EdgeClient struct {
	Endpoint string // defaults to DefaultEdgeEndpoint

	voice  string
	rate   string
	volume string
	pitch  string
}

// NewEdgeClient constructs an Edge synthesis client. rate/volume ("+0%") and
// pitch ("+0Hz") are prosody adjustments.
func NewEdgeClient(voice, rate, volume, pitch string) *EdgeClient {
	if voice == "" {
		voice = "bn-IN-TanishaaNeural"
	}
	if rate == "" {
		rate = "+0%"
	}
	if volume == "" {
		volume = "+0%"
	}
	if pitch == "" {
		pitch = "+0Hz"
	}
	return &EdgeClient{voice: voice, rate: rate, volume: volume, pitch: pitch}
}

// StreamPCM48k synthesizes the text and streams 48kHz PCM16LE mono chunks.
// The service produces 24kHz PCM which is upsampled before delivery.
func (e *EdgeClient) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if strings.TrimSpace(text) == "" {
			return
		}

		endpoint := e.Endpoint
		if endpoint == "" {
			endpoint = DefaultEdgeEndpoint + "?TrustedClientToken=" + edgeTrustedClientToken
		}
		connID := strings.ReplaceAll(uuid.NewString(), "-", "")
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		wsURL := endpoint + sep + "ConnectionId=" + connID

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		headers := map[string][]string{
			"Origin": {"chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"},
			"Pragma": {"no-cache"},
		}
		conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
		if err != nil {
			if resp != nil {
				errCh <- fmt.Errorf("edge tts: dial failed: status=%d: %w", resp.StatusCode, err)
			} else {
				errCh <- fmt.Errorf("edge tts: dial failed: %w", err)
			}
			return
		}
		defer conn.Close()

		// Unblock reads when the turn is cancelled mid-synthesis.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		ts := time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
		speechConfig := "X-Timestamp:" + ts + "\r\n" +
			"Content-Type:application/json; charset=utf-8\r\n" +
			"Path:speech.config\r\n\r\n" +
			`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"raw-24khz-16bit-mono-pcm"}}}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(speechConfig)); err != nil {
			errCh <- fmt.Errorf("edge tts: send config: %w", err)
			return
		}

		reqID := strings.ReplaceAll(uuid.NewString(), "-", "")
		ssmlMsg := "X-RequestId:" + reqID + "\r\n" +
			"Content-Type:application/ssml+xml\r\n" +
			"X-Timestamp:" + ts + "Z\r\n" +
			"Path:ssml\r\n\r\n" +
			buildSSML(text, e.voice, e.rate, e.volume, e.pitch)
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
			errCh <- fmt.Errorf("edge tts: send ssml: %w", err)
			return
		}

		seenAudio := false
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if seenAudio {
					// Service closes abruptly after the final chunk on
					// occasion; the audio is already complete.
					log.Printf("edge tts: read after audio: %v", err)
					return
				}
				errCh <- fmt.Errorf("edge tts: read: %w", err)
				return
			}
			switch msgType {
			case websocket.TextMessage:
				if strings.Contains(string(msg), "Path:turn.end") {
					return
				}
			case websocket.BinaryMessage:
				audio, ok := parseBinaryMessage(msg)
				if !ok || len(audio) == 0 {
					continue
				}
				seenAudio = true
				select {
				case pcmCh <- Upsample24kTo48k(audio):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

// parseBinaryMessage splits an Edge binary frame into header and payload.
// The first two bytes are a big-endian header length; audio follows the
// header when its Path is "audio".
func parseBinaryMessage(msg []byte) ([]byte, bool) {
	if len(msg) < 2 {
		return nil, false
	}
	headerLen := int(msg[0])<<8 | int(msg[1])
	if len(msg) < 2+headerLen {
		return nil, false
	}
	header := string(msg[2 : 2+headerLen])
	if !strings.Contains(header, "Path:audio") {
		return nil, false
	}
	return msg[2+headerLen:], true
}

// buildSSML wraps the text in a prosody-adjusted voice element.
func buildSSML(text, voice, rate, volume, pitch string) string {
	lang := "bn-IN"
	if parts := strings.SplitN(voice, "-", 3); len(parts) == 3 {
		lang = parts[0] + "-" + parts[1]
	}
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>`+
			`<voice name='%s'><prosody pitch='%s' rate='%s' volume='%s'>%s</prosody></voice></speak>`,
		lang, voice, pitch, rate, volume, escapeXML(text))
}

func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"'", "&apos;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}
