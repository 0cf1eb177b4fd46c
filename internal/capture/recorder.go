package capture

import (
	"io"
	"sync"
)

// Recorder drains a stream into a sink while a session records. The recording
// artifact itself is left to the sink; by default the bytes are discarded
type Recorder struct {
	stream *Stream
	sink   io.Writer

	mu      sync.Mutex
	subs    []*Subscription
	wg      sync.WaitGroup
	written int64
	running bool
}

// NewRecorder creates a recorder; a nil sink discards the data
func NewRecorder(stream *Stream, sink io.Writer) *Recorder {
	if sink == nil {
		sink = io.Discard
	}
	return &Recorder{stream: stream, sink: sink}
}

// Start subscribes to every track of the stream
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true

	for _, track := range r.stream.Tracks() {
		sub := track.Subscribe()
		r.subs = append(r.subs, sub)

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			buf := make([]byte, readBufferSize)
			for {
				n, err := sub.Read(buf)
				if n > 0 {
					r.write(buf[:n])
				}
				if err != nil {
					return
				}
			}
		}()
	}
}

func (r *Recorder) write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, _ := r.sink.Write(p)
	r.written += int64(n)
}

// Stop detaches from the stream and waits for pending writes
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	r.wg.Wait()

	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Written returns the number of bytes handed to the sink
func (r *Recorder) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
