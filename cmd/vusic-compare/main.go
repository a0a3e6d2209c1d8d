package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/analysis"
	"github.com/dawg/vusic/config"
	"github.com/dawg/vusic/loader"
	"github.com/dawg/vusic/render"
	"github.com/dawg/vusic/transport"
	"github.com/dawg/vusic/version"
)

func main() {
	threshold := flag.Float64("t", 1e-4, "Largest spectral error that still counts as a match.")
	fftSize := flag.Int("fft", analysis.GoldenFFTSize, "Window length of the spectrogram; a power of two.")
	hop := flag.Int("hop", analysis.GoldenHop, "Frames between spectrogram windows.")
	seed := flag.Uint64("seed", 0, "Seed used when rendering scores.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "vusic-compare compares two renders by their spectrograms.\nInputs may be .yml scores, .wav files or .raw float32 buffers.\nUsage: %s [flags] a b\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Default()
	if err := cfg.FromEnv(); err != nil {
		logger.Error("invalid environment", "err", err)
		os.Exit(2)
	}
	r := report{Threshold: *threshold, FFTSize: *fftSize, Hop: *hop}
	var bufs [2]vusic.AudioBuffer
	for i, name := range flag.Args() {
		buf, format, err := read(name, cfg, *seed)
		if err != nil {
			logger.Error("could not read input", "file", name, "err", err)
			os.Exit(2)
		}
		bufs[i] = buf
		r.Inputs = append(r.Inputs, input{Name: name, Format: format, Frames: len(buf), Levels: analysis.Measure(buf)})
	}
	var err error
	if r.Error, err = analysis.CompareBuffers(bufs[0], bufs[1], *fftSize, *hop); err != nil {
		logger.Error("could not compare", "err", err)
		os.Exit(2)
	}
	if err := r.Write(os.Stdout); err != nil {
		logger.Error("could not write report", "err", err)
		os.Exit(2)
	}
	if !r.Pass() {
		os.Exit(1)
	}
}

func read(name string, cfg config.Config, seed uint64) (vusic.AudioBuffer, string, error) {
	format := loader.Format(name)
	switch format {
	case "raw":
		buf, err := analysis.ReadRaw(name)
		return buf, format, err
	case "yml", "yaml":
		buf, err := renderScore(name, cfg, seed)
		return buf, "score", err
	}
	contents, err := os.ReadFile(name)
	if err != nil {
		return nil, format, err
	}
	dec, ok := loader.DefaultRegistry().Get(format)
	if !ok {
		return nil, format, fmt.Errorf("%v: %w", name, loader.ErrUnknownFormat)
	}
	data, err := dec.Decode(bytes.NewReader(contents))
	if err != nil {
		return nil, format, err
	}
	buf := make(vusic.AudioBuffer, data.Len())
	for i := range buf {
		buf[i] = data.Frame(i)
	}
	return buf, format, nil
}

func renderScore(name string, cfg config.Config, seed uint64) (vusic.AudioBuffer, error) {
	contents, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	l := loader.New(loader.DefaultRegistry(), os.DirFS(filepath.Dir(name)))
	score, err := vusic.LoadScore(contents, l.Resolver(context.Background()))
	if err != nil {
		return nil, err
	}
	l.Wait()
	tempo, err := transport.NewTempoMap(score.Tempo())
	if err != nil {
		return nil, err
	}
	return render.Offline(score, cfg, tempo.Seconds(score.Length())+1, seed)
}
