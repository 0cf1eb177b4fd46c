package capture

import "go.uber.org/multierr"

// Stream is an ordered set of tracks handed out by a device or the manager
type Stream struct {
	tracks []*Track
}

// NewStream groups tracks into a stream
func NewStream(tracks ...*Track) *Stream {
	return &Stream{tracks: tracks}
}

// Tracks returns every track in the stream
func (s *Stream) Tracks() []*Track {
	if s == nil {
		return nil
	}
	return append([]*Track(nil), s.tracks...)
}

// AudioTracks returns the audio tracks in the stream
func (s *Stream) AudioTracks() []*Track {
	return s.ofKind(KindAudio)
}

// VideoTracks returns the video tracks in the stream
func (s *Stream) VideoTracks() []*Track {
	return s.ofKind(KindVideo)
}

func (s *Stream) ofKind(kind TrackKind) []*Track {
	if s == nil {
		return nil
	}

	var out []*Track
	for _, t := range s.tracks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track of the stream
func (s *Stream) Stop() error {
	if s == nil {
		return nil
	}

	var err error
	for _, t := range s.tracks {
		err = multierr.Append(err, t.Stop())
	}
	return err
}
