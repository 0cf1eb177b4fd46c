package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrUnknownTrack is returned when an upload names a track that was never issued
var ErrUnknownTrack = errors.New("unknown track")

// Offer is what the browser reports after its getDisplayMedia/getUserMedia calls
type Offer struct {
	DisplayVideo     bool
	DisplayAudio     bool
	DisplayDenied    bool
	Microphone       bool
	MicrophoneDenied bool
}

// TrackInfo identifies an issued track so the browser can upload into it
type TrackInfo struct {
	ID     string
	Kind   TrackKind
	Label  string
	Source RequestKind
}

type upload struct {
	info     TrackInfo
	writer   *io.PipeWriter
	attached bool
}

// BrowserDevice is a Device whose tracks are fed by a remote browser. Prepare
// records the browser's offer; Request then issues pipe-backed tracks that the
// browser fills through Upload
type BrowserDevice struct {
	mu      sync.Mutex
	offer   *Offer
	uploads map[string]*upload
	order   []string
}

// NewBrowserDevice creates an empty browser device
func NewBrowserDevice() *BrowserDevice {
	return &BrowserDevice{uploads: make(map[string]*upload)}
}

// Prepare records the offer used by the next Request calls
func (b *BrowserDevice) Prepare(offer Offer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.offer = &offer
	b.order = nil
	for id, u := range b.uploads {
		if !u.attached {
			_ = u.writer.Close()
			delete(b.uploads, id)
		}
	}
}

// Request implements Device
func (b *BrowserDevice) Request(ctx context.Context, kind RequestKind) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.offer == nil {
		return nil, fmt.Errorf("%w: browser has not offered any media", ErrUnavailable)
	}

	switch kind {
	case DisplayWithAudio:
		if b.offer.DisplayDenied {
			return nil, fmt.Errorf("%w: screen share was declined", ErrPermissionDenied)
		}
		if !b.offer.DisplayVideo {
			return nil, fmt.Errorf("%w: screen share has no video track", ErrUnavailable)
		}

		tracks := []*Track{b.issueLocked(KindVideo, "display video", kind)}
		if b.offer.DisplayAudio {
			tracks = append(tracks, b.issueLocked(KindAudio, "display audio", kind))
		}
		return NewStream(tracks...), nil

	case MicrophoneOnly:
		if b.offer.MicrophoneDenied {
			return nil, fmt.Errorf("%w: microphone access was declined", ErrPermissionDenied)
		}
		if !b.offer.Microphone {
			return nil, fmt.Errorf("%w: no microphone offered", ErrUnavailable)
		}
		return NewStream(b.issueLocked(KindAudio, "microphone", kind)), nil
	}

	return nil, fmt.Errorf("%w: unsupported request %s", ErrUnavailable, kind)
}

func (b *BrowserDevice) issueLocked(kind TrackKind, label string, source RequestKind) *Track {
	pr, pw := io.Pipe()

	track := NewTrack(kind, label, pr)
	id := track.ID

	track.onStop = func() error {
		b.mu.Lock()
		delete(b.uploads, id)
		b.mu.Unlock()
		return pw.Close()
	}

	b.uploads[id] = &upload{
		info:   TrackInfo{ID: id, Kind: kind, Label: label, Source: source},
		writer: pw,
	}
	b.order = append(b.order, id)

	return track
}

// Tracks lists the tracks issued since the last Prepare, in issue order
func (b *BrowserDevice) Tracks() []TrackInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []TrackInfo
	for _, id := range b.order {
		if u, ok := b.uploads[id]; ok {
			out = append(out, u.info)
		}
	}
	return out
}

// Upload claims the writing end of a track. Each track accepts one uploader;
// closing the writer ends the track's data
func (b *BrowserDevice) Upload(id string) (io.WriteCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := b.uploads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrack, id)
	}
	if u.attached {
		return nil, fmt.Errorf("track %s already has an uploader", id)
	}

	u.attached = true
	return u.writer, nil
}
