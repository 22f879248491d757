// Package media provides the local audio feed for a headless client. A real
// device microphone is out of reach for a daemon, so the feed is an Ogg/Opus
// file streamed at its natural pace, which is what every peer connection
// sends out.
package media

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/hearby/hearby/internal/core"
)

const oggPageDuration = 20 * time.Millisecond

// FileDevice acquires a file-backed audio feed. Acquire fails if the file
// cannot be opened or is not a valid Ogg stream, which models microphone
// acquisition failure.
type FileDevice struct {
	Path string
}

func (d *FileDevice) Acquire(ctx context.Context) (core.LocalAudio, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio source: %w", err)
	}
	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse audio source: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "hearby-"+uuid.NewString(),
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create local track: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	src := &fileSource{
		file:   f,
		track:  track,
		cancel: cancel,
	}
	go src.stream(ctx, ogg)
	return src, nil
}

type fileSource struct {
	file   *os.File
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc

	mu    sync.RWMutex
	muted bool
}

func (s *fileSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *fileSource) SetMuted(mute bool) {
	s.mu.Lock()
	s.muted = mute
	s.mu.Unlock()
	log.Info().Str("module", "media").Bool("muted", mute).Msg("local audio mute")
}

func (s *fileSource) Muted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

func (s *fileSource) Close() {
	s.cancel()
	if err := s.file.Close(); err != nil {
		log.Debug().Err(err).Str("module", "media").Msg("close audio source")
	}
}

// stream paces Ogg pages onto the track. While muted, pages are consumed at
// the same pace but not written, so remote jitter buffers see silence
// instead of a frozen timeline.
func (s *fileSource) stream(ctx context.Context, ogg *oggreader.OggReader) {
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data, _, err := ogg.ParseNextPage()
		if err != nil {
			// Loop the file so the feed never runs dry.
			if _, serr := s.file.Seek(0, 0); serr != nil {
				log.Error().Err(serr).Str("module", "media").Msg("rewind audio source")
				return
			}
			if ogg, _, err = oggreader.NewWith(s.file); err != nil {
				log.Error().Err(err).Str("module", "media").Msg("reopen audio source")
				return
			}
			continue
		}

		if s.Muted() {
			continue
		}
		if err := s.track.WriteSample(media.Sample{Data: data, Duration: oggPageDuration}); err != nil {
			log.Error().Err(err).Str("module", "media").Msg("write sample")
			return
		}
	}
}
