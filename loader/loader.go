// Package loader decodes audio files into samples. Loads run on their own
// goroutines and resolve a vusic.SampleHandle once the whole file is decoded,
// so a sample is never playable half loaded.
package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/dawg/vusic"
)

type (
	// Decoder turns an encoded stream into interleaved samples.
	Decoder interface {
		Decode(r io.Reader) (*vusic.SampleData, error)
	}

	// DecoderFunc adapts a function to a Decoder.
	DecoderFunc func(r io.Reader) (*vusic.SampleData, error)

	// Registry maps format keys ("wav", "mp3", "ogg") to decoders. It is safe
	// for concurrent use.
	Registry struct {
		mu     sync.Mutex
		codecs map[string]Decoder
	}

	// Loader loads samples from a file system.
	Loader struct {
		registry *Registry
		fsys     fs.FS
		wg       sync.WaitGroup
	}
)

func (f DecoderFunc) Decode(r io.Reader) (*vusic.SampleData, error) { return f(r) }

func NewRegistry() *Registry {
	return &Registry{codecs: map[string]Decoder{}}
}

// DefaultRegistry returns a registry with the WAV, MP3 and Ogg Vorbis
// decoders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("wav", WavDecoder{})
	r.Register("wave", WavDecoder{})
	r.Register("mp3", Mp3Decoder{})
	r.Register("ogg", VorbisDecoder{})
	r.Register("oga", VorbisDecoder{})
	return r
}

func (r *Registry) Register(format string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(format)] = d
}

func (r *Registry) Get(format string) (Decoder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.codecs[strings.ToLower(format)]
	return d, ok
}

// Format returns the format key of a file name: its extension, lower case,
// without the dot.
func Format(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// New returns a loader reading files from fsys.
func New(registry *Registry, fsys fs.FS) *Loader {
	return &Loader{registry: registry, fsys: fsys}
}

// Decode reads and decodes the named file synchronously.
func (l *Loader) Decode(name string) (*vusic.SampleData, error) {
	d, ok := l.registry.Get(Format(name))
	if !ok {
		return nil, fmt.Errorf("%v: %w %q", name, ErrUnknownFormat, Format(name))
	}
	f, err := l.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := d.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %v: %w", name, err)
	}
	if data.Len() == 0 {
		return nil, fmt.Errorf("%v: %w", name, ErrEmptySample)
	}
	return data, nil
}

// Load starts loading ref in the background and returns its handle right
// away. The handle becomes Ready or Failed when the load finishes, or Failed
// if ctx is cancelled first.
func (l *Loader) Load(ctx context.Context, ref vusic.SampleRef) *vusic.SampleHandle {
	h := vusic.NewSampleHandle(ref.Source)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		data, err := l.Decode(ref.Source)
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			h.Fail(err)
			return
		}
		name := ref.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(ref.Source), path.Ext(ref.Source))
		}
		// Resolve fails the handle itself on invalid trims
		h.Resolve(&vusic.Sample{Name: name, Data: data, Gain: ref.Gain, TrimStart: ref.TrimStart, TrimEnd: ref.TrimEnd})
	}()
	return h
}

// Resolver returns a vusic.SampleResolver that starts a load for every
// sample of a document.
func (l *Loader) Resolver(ctx context.Context) vusic.SampleResolver {
	return func(ref vusic.SampleRef) *vusic.SampleHandle {
		return l.Load(ctx, ref)
	}
}

// Wait blocks until every load started so far has finished.
func (l *Loader) Wait() { l.wg.Wait() }
