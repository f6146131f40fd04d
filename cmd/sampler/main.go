package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	sampler "github.com/cbegin/sampler-go"
	"github.com/cbegin/sampler-go/internal/chunk"
	"github.com/cbegin/sampler-go/internal/config"
	"github.com/cbegin/sampler-go/internal/patchio"
	"github.com/cbegin/sampler-go/internal/render"
)

const usage = `usage: sampler <command> [flags]

commands:
  play     play a MIDI file through an instrument document
  render   render a MIDI file through an instrument document to WAV
  convert  re-save a document in another style
  bundles  list the embedded init states
`

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "play":
		err = runPlay(ctx, cfg, logger, os.Args[2:])
	case "render":
		err = runRender(ctx, cfg, logger, os.Args[2:])
	case "convert":
		err = runConvert(ctx, cfg, logger, os.Args[2:])
	case "bundles":
		fmt.Println(strings.Join(patchio.Bundles(), "\n"))
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("sampler failed", "command", os.Args[1], "err", err)
		os.Exit(1)
	}
}

type instrumentFlags struct {
	sampleRate *int
	doc        *string
	volume     *float64
	bundle     *string
}

func addInstrumentFlags(fs *flag.FlagSet, cfg config.Config) instrumentFlags {
	return instrumentFlags{
		sampleRate: fs.Int("sample-rate", cfg.SampleRate, "output sample rate"),
		doc:        fs.String("doc", "", "multi or part document to load (a part lands in part 0)"),
		volume:     fs.Float64("volume", cfg.MasterVolume, "master volume scalar"),
		bundle:     fs.String("bundle", cfg.Bundle, "init state to start from"),
	}
}

func openInstrument(ctx context.Context, cfg config.Config, logger *slog.Logger, f instrumentFlags, backend string) (*sampler.Instrument, error) {
	in, err := sampler.New(*f.sampleRate,
		sampler.WithLogger(logger),
		sampler.WithBackend(backend),
		sampler.WithBufferTime(cfg.BufferTime),
		sampler.WithClientBuffer(cfg.ClientBuffer),
		sampler.WithBundle(*f.bundle),
		sampler.WithMasterVolume(*f.volume),
	)
	if err != nil {
		return nil, err
	}
	if *f.doc == "" {
		return in, nil
	}
	docType, err := documentType(*f.doc)
	if err == nil {
		if docType == patchio.TypePart {
			err = in.LoadPartInto(ctx, *f.doc, 0)
		} else {
			err = in.LoadMulti(ctx, *f.doc)
		}
	}
	if err != nil {
		in.Close()
		return nil, err
	}
	return in, nil
}

func documentType(path string) (string, error) {
	doc, err := chunk.ReadFile(path)
	if err != nil {
		return "", err
	}
	m, err := patchio.ReadManifest(doc)
	if err != nil {
		return "", err
	}
	return m["type"], nil
}

func endFrame(events []render.Event, sampleRate int, tail time.Duration) int {
	end := 0
	if len(events) > 0 {
		end = events[len(events)-1].Time
	}
	return end + int(tail.Seconds()*float64(sampleRate))
}

func runPlay(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	inf := addInstrumentFlags(fs, cfg)
	midiPath := fs.String("midi", "", "standard MIDI file to play")
	backend := fs.String("backend", cfg.Backend, "audio backend: ebiten|oto")
	tail := fs.Duration("tail", 2*time.Second, "time to keep playing after the last event")
	fs.Parse(args)
	if *midiPath == "" {
		return fmt.Errorf("play: -midi is required")
	}

	events, err := sampler.ReadMIDIFile(*midiPath, *inf.sampleRate)
	if err != nil {
		return err
	}
	in, err := openInstrument(ctx, cfg, logger, inf, *backend)
	if err != nil {
		return err
	}
	defer in.Close()
	go func() {
		for r := range in.Watch() {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Title, r.Detail)
		}
	}()
	if err := in.Play(); err != nil {
		return err
	}

	start := time.Now()
	rate := float64(*inf.sampleRate)
	for _, ev := range events {
		at := time.Duration(float64(ev.Time) / rate * float64(time.Second))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(start.Add(at))):
		}
		in.SendMIDI(ev.Data[:])
	}
	select {
	case <-ctx.Done():
	case <-time.After(*tail):
	}
	logger.Info("playback completed", "events", len(events), "elapsed", time.Since(start).Round(time.Millisecond), "frames", in.OutputFrames())
	return nil
}

func runRender(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	inf := addInstrumentFlags(fs, cfg)
	midiPath := fs.String("midi", "", "standard MIDI file to render")
	outPath := fs.String("out", "out.wav", "WAV file to write")
	tail := fs.Duration("tail", 2*time.Second, "time to render after the last event")
	fs.Parse(args)
	if *midiPath == "" {
		return fmt.Errorf("render: -midi is required")
	}

	events, err := sampler.ReadMIDIFile(*midiPath, *inf.sampleRate)
	if err != nil {
		return err
	}
	in, err := openInstrument(ctx, cfg, logger, inf, "none")
	if err != nil {
		return err
	}
	defer in.Close()

	frames := endFrame(events, *inf.sampleRate, *tail)
	samples := in.RenderOffline(frames, events)
	if err := os.WriteFile(*outPath, sampler.EncodeWAVFloat32LE(samples, *inf.sampleRate, 2), 0o644); err != nil {
		return err
	}
	logger.Info("rendered", "out", *outPath, "frames", frames, "lateEvents", in.Processor().LateEvents())
	return nil
}

func runConvert(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	inPath := fs.String("in", "", "document to read")
	outPath := fs.String("out", "", "document to write")
	styleName := fs.String("style", "monolith", "sample storage: reference|monolith|collect")
	fs.Parse(args)
	if *inPath == "" || *outPath == "" {
		return fmt.Errorf("convert: -in and -out are required")
	}
	style, err := patchio.ParseStyle(*styleName)
	if err != nil {
		return err
	}
	docType, err := documentType(*inPath)
	if err != nil {
		return err
	}

	in, err := sampler.New(cfg.SampleRate, sampler.WithLogger(logger), sampler.WithBackend("none"))
	if err != nil {
		return err
	}
	defer in.Close()
	if docType == patchio.TypePart {
		if err := in.LoadPartInto(ctx, *inPath, 0); err != nil {
			return err
		}
		return in.SavePart(ctx, *outPath, 0, style)
	}
	if err := in.LoadMulti(ctx, *inPath); err != nil {
		return err
	}
	return in.SaveMulti(ctx, *outPath, style)
}
