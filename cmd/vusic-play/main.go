package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/config"
	"github.com/dawg/vusic/importer"
	"github.com/dawg/vusic/loader"
	"github.com/dawg/vusic/oto"
	"github.com/dawg/vusic/render"
	"github.com/dawg/vusic/transport"
	"github.com/dawg/vusic/version"
)

type options struct {
	stdout    bool
	directory string
	play      bool
	raw       bool
	wav       bool
	pcm       bool
	seed      uint64
	length    float64
	tail      float64
}

func main() {
	var opts options
	flag.BoolVar(&opts.stdout, "s", false, "Do not write files; write to standard output instead.")
	help := flag.Bool("h", false, "Show help.")
	flag.StringVar(&opts.directory, "o", "", "Directory where to output all files. The directory and its parents are created if needed. By default, everything is placed in the working directory.")
	flag.BoolVar(&opts.play, "p", false, "Play the input scores (default behaviour when no other output is defined).")
	flag.BoolVar(&opts.raw, "r", false, "Output the rendered score as .raw file. By default, saves stereo float32 buffer to disk.")
	flag.BoolVar(&opts.wav, "w", false, "Output the rendered score as .wav file. By default, saves 24-bit audio.")
	flag.BoolVar(&opts.pcm, "c", false, "Convert audio to 16-bit signed PCM when outputting.")
	flag.Uint64Var(&opts.seed, "seed", 0, "Seed of the noise generators; renders with the same seed are identical.")
	flag.Float64Var(&opts.length, "length", 0, "Seconds to render. By default, the length of the score plus the tail.")
	flag.Float64Var(&opts.tail, "tail", 1, "Seconds rendered after the last item of the score, for releases and delays.")
	configPath := flag.String("config", "", "YAML file with engine settings. VUSIC_* environment variables override it.")
	verbose := flag.Bool("verbose", false, "Log debug messages.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	if !opts.raw && !opts.wav {
		opts.play = true // with nothing else to output, just play the file
	}
	var audioContext *oto.Context
	if opts.play {
		audioContext, err = oto.NewContext(cfg.SampleRate, 2*cfg.PeriodDuration())
		if err != nil {
			logger.Error("could not acquire an audio context", "err", err)
			os.Exit(1)
		}
		defer audioContext.Close()
	}
	retval := 0
	for _, param := range flag.Args() {
		files := []string{param}
		if info, err := os.Stat(param); err == nil && info.IsDir() {
			files = nil
			for _, pattern := range []string{"*.yml", "*.yaml", "*.mid"} {
				matches, err := filepath.Glob(filepath.Join(param, pattern))
				if err != nil {
					logger.Error("could not glob", "path", param, "err", err)
					retval = 1
				}
				files = append(files, matches...)
			}
		}
		for _, file := range files {
			if err := process(file, cfg, opts, audioContext, logger); err != nil {
				logger.Error("could not process file", "file", file, "err", err)
				retval = 1
			}
		}
	}
	os.Exit(retval)
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := cfg.FromEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func process(filename string, cfg config.Config, opts options, audioContext *oto.Context, logger *slog.Logger) error {
	score, err := readScore(filename, logger)
	if err != nil {
		return err
	}
	length := vusic.Seconds(opts.length)
	if length <= 0 {
		tempo, err := transport.NewTempoMap(score.Tempo())
		if err != nil {
			return err
		}
		length = tempo.Seconds(score.Length()) + vusic.Seconds(opts.tail)
	}
	logger.Info("rendering", "file", filename, "seconds", float64(length))
	if opts.raw || opts.wav {
		buffer, err := bounce(score, cfg, opts.seed, length, logger)
		if err != nil {
			return err
		}
		if err := write(filename, buffer, cfg, opts); err != nil {
			return err
		}
	}
	if opts.play {
		return play(score, cfg, audioContext, length, logger)
	}
	return nil
}

// readScore reads a YAML document, loading its samples relative to the
// document, or builds a one track score from a MIDI file.
func readScore(filename string, logger *slog.Logger) (*vusic.Score, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read file %v: %w", filename, err)
	}
	if loader.Format(filename) == "mid" {
		return midiScore(filename, contents)
	}
	l := loader.New(loader.DefaultRegistry(), os.DirFS(filepath.Dir(filename)))
	score, err := vusic.LoadScore(contents, l.Resolver(context.Background()))
	if err != nil {
		return nil, fmt.Errorf("the score could not be parsed: %w", err)
	}
	l.Wait()
	for _, h := range score.Samples() {
		if h.State() == vusic.Failed {
			logger.Warn("sample did not load and will stay silent", "source", h.Source(), "err", h.Err())
		}
	}
	return score, nil
}

func midiScore(filename string, contents []byte) (*vusic.Score, error) {
	imp, err := importer.Read(bytes.NewReader(contents))
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	score, err := vusic.NewScore(name, imp.BPM)
	if err != nil {
		return nil, err
	}
	pattern, err := score.ImportPattern(name, imp.BPM, imp.Notes)
	if err != nil {
		return nil, err
	}
	instr, err := vusic.NewInstrument("synth")
	if err != nil {
		return nil, err
	}
	track, err := score.AddTrack(name, instr)
	if err != nil {
		return nil, err
	}
	if _, err := track.PlacePattern(pattern, 0, 0); err != nil {
		return nil, err
	}
	return score, nil
}

func bounce(score *vusic.Score, cfg config.Config, seed uint64, length vusic.Seconds, logger *slog.Logger) (vusic.AudioBuffer, error) {
	cfg.Seed = seed
	warnings := vusic.WarningFunc(func(w vusic.Warning) { render.LogWarning(logger, w) })
	e, err := render.NewEngine(score, cfg, render.Options{Offline: true, Warnings: warnings})
	if err != nil {
		return nil, err
	}
	if err := e.Play(0); err != nil {
		return nil, err
	}
	defer e.Close()
	return e.Bounce(length), nil
}

func play(score *vusic.Score, cfg config.Config, audioContext *oto.Context, length vusic.Seconds, logger *slog.Logger) error {
	e, err := render.NewEngine(score, cfg, render.Options{})
	if err != nil {
		return err
	}
	b := e.Broker()
	go render.LogWarnings(b, logger)
	defer func() {
		render.TrySend(b.CloseWarnings, struct{}{})
		<-b.FinishedWarnings
		if n := b.Dropped(); n > 0 {
			logger.Warn("warnings were dropped", "count", n)
		}
	}()
	player := audioContext.Play(e.Reader())
	defer player.Close()
	if err := e.Play(0); err != nil {
		return err
	}
	time.Sleep(time.Duration(float64(length) * float64(time.Second)))
	e.Close()
	return player.Err()
}

func write(filename string, buffer vusic.AudioBuffer, cfg config.Config, opts options) error {
	output := func(extension string, write func(w io.WriteSeeker) error) error {
		if opts.stdout {
			var buf seekBuffer
			if err := write(&buf); err != nil {
				return err
			}
			_, err := os.Stdout.Write(buf.data)
			return err
		}
		dir := opts.directory
		if dir == "" {
			var err error
			if dir, err = os.Getwd(); err != nil {
				return fmt.Errorf("could not get working directory, specify the output directory explicitly: %w", err)
			}
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("could not create output directory %v: %w", dir, err)
		}
		name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename)) + extension
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if err := write(f); err != nil {
			f.Close()
			return fmt.Errorf("could not write file %v: %w", name, err)
		}
		return f.Close()
	}
	if opts.raw {
		raw, err := buffer.Raw(opts.pcm)
		if err != nil {
			return fmt.Errorf("could not generate .raw file: %w", err)
		}
		err = output(".raw", func(w io.WriteSeeker) error {
			_, err := w.Write(raw)
			return err
		})
		if err != nil {
			return err
		}
	}
	if opts.wav {
		depth := 24
		if opts.pcm {
			depth = 16
		}
		return output(".wav", func(w io.WriteSeeker) error {
			return buffer.WriteWav(w, cfg.SampleRate, depth)
		})
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "vusic command line utility for rendering and playing .yml scores and .mid files.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
