package room

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// micChunkBytes is 100ms of 16kHz mono 16-bit PCM, the unit handed to the
// utterance segmenter.
const micChunkBytes = 3200

// Options configures a room connection.
type Options struct {
	URL       string
	APIKey    string
	APISecret string
	RoomName  string
	Identity  string
	TokenTTL  time.Duration
}

// Room is a connected LiveKit room with a published assistant voice track
// and a mic reader feeding decoded 16kHz PCM to the caller.
type Room struct {
	lk     *lksdk.Room
	writer *OpusPacedWriter

	closed    chan struct{}
	closeOnce sync.Once
}

// rtpReader is the slice of webrtc.TrackRemote the mic loop reads from.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Connect joins the room, publishes the assistant's Opus track and starts a
// mic reader per subscribed remote audio track. Each decoded 100ms chunk of
// 16kHz mono PCM is passed to onPCM16k.
func Connect(opts Options, onPCM16k func([]byte)) (*Room, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("livekit url required")
	}
	token, err := AccessToken(opts.APIKey, opts.APISecret, opts.RoomName, opts.Identity, opts.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	r := &Room{closed: make(chan struct{})}
	cb := &lksdk.RoomCallback{
		OnDisconnected: func() {
			log.Printf("room disconnected")
			r.markClosed()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				// Never listen to our own published voice.
				if rp.Identity() == opts.Identity {
					return
				}
				log.Printf("subscribed to mic track %s from %s", pub.SID(), rp.Identity())
				go readMicTrack(track, rp.Identity(), onPCM16k)
			},
		},
	}

	lkRoom, err := lksdk.ConnectToRoomWithToken(opts.URL, token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("connect to room: %w", err)
	}
	r.lk = lkRoom

	localTrack, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  1,
	})
	if err != nil {
		lkRoom.Disconnect()
		return nil, fmt.Errorf("create local track: %w", err)
	}
	if _, err := lkRoom.LocalParticipant.PublishTrack(localTrack, &lksdk.TrackPublicationOptions{
		Name:   "assistant-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		lkRoom.Disconnect()
		return nil, fmt.Errorf("publish track: %w", err)
	}

	writer, err := NewOpusPacedWriter(localTrack)
	if err != nil {
		lkRoom.Disconnect()
		return nil, fmt.Errorf("create paced writer: %w", err)
	}
	r.writer = writer

	log.Printf("connected to room %q as %q", opts.RoomName, opts.Identity)
	return r, nil
}

// Writer returns the paced writer feeding the published voice track.
func (r *Room) Writer() *OpusPacedWriter { return r.writer }

// Closed is closed when the server drops the connection.
func (r *Room) Closed() <-chan struct{} { return r.closed }

func (r *Room) markClosed() {
	r.closeOnce.Do(func() { close(r.closed) })
}

// Close tears down the published track and leaves the room.
func (r *Room) Close() {
	if r.writer != nil {
		r.writer.Close()
	}
	if r.lk != nil {
		r.lk.Disconnect()
	}
	r.markClosed()
}

// readMicTrack decodes the remote Opus stream to 16kHz mono PCM and hands it
// off in fixed-size chunks.
func readMicTrack(track rtpReader, identity string, onPCM16k func([]byte)) {
	dec, err := opus.NewDecoder(16000, 1)
	if err != nil {
		log.Printf("opus decoder for %s: %v", identity, err)
		return
	}
	ch := newChunker(micChunkBytes, onPCM16k)
	pcmSamples := make([]int16, 1920)
	frame := make([]byte, 0, len(pcmSamples)*2)
	for {
		pkt, _, readErr := track.ReadRTP()
		if readErr != nil {
			if readErr != io.EOF {
				log.Printf("rtp read from %s: %v", identity, readErr)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcmSamples)
		if decErr != nil {
			log.Printf("opus decode from %s: %v", identity, decErr)
			continue
		}
		frame = frame[:n*2]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(frame[i*2:(i+1)*2], uint16(pcmSamples[i]))
		}
		ch.Write(frame)
	}
}

// chunker re-slices an arbitrary byte stream into fixed-size chunks.
type chunker struct {
	size int
	buf  []byte
	emit func([]byte)
}

func newChunker(size int, emit func([]byte)) *chunker {
	return &chunker{size: size, emit: emit}
}

func (c *chunker) Write(p []byte) {
	c.buf = append(c.buf, p...)
	for len(c.buf) >= c.size {
		chunk := make([]byte, c.size)
		copy(chunk, c.buf[:c.size])
		c.emit(chunk)
		copy(c.buf, c.buf[c.size:])
		c.buf = c.buf[:len(c.buf)-c.size]
	}
}
