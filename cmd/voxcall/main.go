// Command voxcall talks to a realtime speech session from the terminal.
//
// In peer mode it negotiates a WebRTC session directly with the provider,
// streaming a WAV file or raw PCM from stdin as the microphone and recording
// the assistant's voice to a WAV file. In relay mode it connects to a
// voxbridge relay over WebSockets. In both modes lines typed on stdin are sent
// as user text and transcripts are printed as they arrive.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/negotiator"
	"github.com/MrWong99/voxbridge/internal/signaling"
	"github.com/MrWong99/voxbridge/internal/token"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/opus"
	"github.com/MrWong99/voxbridge/pkg/audio/webrtc"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// ephemeralKeyEnv may hold a pre-provisioned ephemeral key for peer mode.
const ephemeralKeyEnv = "VOXCALL_EPHEMERAL_KEY"

// relaySampleRate is the provider's pcm16 rate carried in audio deltas.
const relaySampleRate = 24000

type flags struct {
	config   string
	mode     string
	input    string
	output   string
	token    string
	say      string
	logLevel string
}

// session is what both transports look like once connected.
type session interface {
	Send(text string) error
	Disconnect() error
	State() realtime.State
}

func main() {
	os.Exit(run())
}

func run() int {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to the YAML configuration file (optional)")
	flag.StringVar(&f.mode, "mode", "peer", "transport: peer (WebRTC to the provider) or relay (WebSocket to voxbridge)")
	flag.StringVar(&f.input, "input", "", `microphone source: a .wav file or "-" for raw PCM16 on stdin (peer mode)`)
	flag.StringVar(&f.output, "output", "", "record the assistant's audio to this .wav file")
	flag.StringVar(&f.token, "token", "", "ephemeral key for peer mode; overrides client.token_url")
	flag.StringVar(&f.say, "say", "", "text sent once the session is active")
	flag.StringVar(&f.logLevel, "log-level", "", "override server.log_level")
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "voxcall: %v\n", err)
		return 1
	}
	cfg, err := loadConfig(f.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxcall: %v\n", err)
		return 1
	}
	level := cfg.Server.LogLevel
	if f.logLevel != "" {
		level = config.LogLevel(f.logLevel)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level.Slog()})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	active := make(chan struct{})
	var activeOnce sync.Once
	ended := make(chan struct{})
	var endOnce sync.Once
	observe := func(t realtime.Transition) {
		slog.Debug("session state", "from", t.From.String(), "to", t.To.String())
		if t.To == realtime.StateActive {
			activeOnce.Do(func() { close(active) })
		}
		if t.To.Terminal() {
			if t.Err != nil {
				slog.Error("session ended", "err", t.Err)
			}
			endOnce.Do(func() { close(ended) })
		}
	}

	out := newPrinter(os.Stdout)
	var sess session
	switch f.mode {
	case "peer":
		sess, err = startPeer(ctx, cfg, f, out, observe)
	case "relay":
		sess, err = startRelay(ctx, cfg, f, out, observe)
	default:
		err = fmt.Errorf("unknown mode %q; valid values: peer, relay", f.mode)
	}
	if err != nil {
		slog.Error("failed to start session", "err", err)
		if sess != nil {
			_ = sess.Disconnect()
		}
		return 1
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			slog.Warn("disconnect", "err", err)
		}
		if err := out.Close(); err != nil {
			slog.Warn("close output", "err", err)
		}
	}()

	select {
	case <-active:
	case <-ended:
		return 1
	case <-ctx.Done():
		return 0
	}
	slog.Info("session active", "mode", f.mode)

	if f.say != "" {
		if err := sess.Send(f.say); err != nil {
			slog.Error("send", "err", err)
		}
	}
	if f.input != "-" {
		go readLines(os.Stdin, sess)
	}

	select {
	case <-ended:
	case <-ctx.Done():
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		return nil, err
	}
	config.ResolveEnv(cfg, os.LookupEnv)
	return cfg, nil
}

// readLines sends every non-empty line of r as user text until r ends.
func readLines(r io.Reader, sess session) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := sess.Send(line); err != nil {
			slog.Warn("send", "err", err)
		}
	}
}

// ── Peer mode ─────────────────────────────────────────────────────────────────

func startPeer(ctx context.Context, cfg *config.Config, f flags, out *printer, observe func(realtime.Transition)) (session, error) {
	issuer, err := newIssuer(cfg, f.token)
	if err != nil {
		return nil, err
	}
	capturer, err := newCapturer(cfg, f.input)
	if err != nil {
		return nil, err
	}
	enc, err := opus.NewEncoder(cfg.Client.CaptureChannels)
	if err != nil {
		return nil, err
	}

	var sink audio.Sink = &audio.DiscardSink{}
	if f.output != "" {
		ws, err := audio.CreateWAVSink(f.output, audio.Format{SampleRate: opus.SampleRate, Channels: 1})
		if err != nil {
			return nil, err
		}
		sink = ws
	}

	var factoryOpts []webrtc.Option
	if len(cfg.Client.ICEServers) > 0 {
		factoryOpts = append(factoryOpts, webrtc.WithICEServers(cfg.Client.ICEServers...))
	}
	factory, err := webrtc.New(factoryOpts...)
	if err != nil {
		return nil, err
	}
	sig, err := signaling.New(cfg.Provider.SignalingURL)
	if err != nil {
		return nil, err
	}

	n, err := negotiator.New(issuer, factory, sig, negotiator.Config{
		Models:        cfg.Provider.Models,
		Session:       cfg.Session.Realtime(),
		ICETimeout:    cfg.Client.ICETimeout,
		ModelNotFound: cfg.Provider.ModelNotFound(),
	},
		negotiator.WithAudioInput(capturer, enc),
		negotiator.WithAudioOutput(func() (audio.Decoder, error) { return opus.NewDecoder(1) }, sink),
		negotiator.WithEventHandler(out.Handle),
		negotiator.WithStateObserver(observe),
	)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	if err := n.Init(ctx); err != nil {
		return n, err
	}
	slog.Info("peer connected", "model", n.Model())
	return n, nil
}

func newIssuer(cfg *config.Config, flagToken string) (token.Issuer, error) {
	if flagToken != "" {
		return token.Static(flagToken), nil
	}
	if v := os.Getenv(ephemeralKeyEnv); v != "" {
		return token.Static(v), nil
	}
	if cfg.Client.TokenURL != "" {
		return token.NewHTTPIssuer(cfg.Client.TokenURL)
	}
	return nil, fmt.Errorf("peer mode needs -token, %s or client.token_url", ephemeralKeyEnv)
}

func newCapturer(cfg *config.Config, input string) (*audio.DeviceCapturer, error) {
	var dev audio.Device
	switch {
	case input == "":
		return nil, errors.New(`peer mode needs -input (a .wav file or "-" for stdin)`)
	case input == "-":
		dev = audio.NewReaderDevice(os.Stdin, audio.Format{
			SampleRate: cfg.Client.CaptureSampleRate,
			Channels:   cfg.Client.CaptureChannels,
		})
	default:
		dev = audio.NewWAVDevice(input)
	}
	return audio.NewCapturer(dev,
		audio.WithCaptureFormat(audio.Format{SampleRate: opus.SampleRate, Channels: cfg.Client.CaptureChannels}),
		audio.WithFrameDuration(cfg.Client.FrameDuration),
		audio.WithPacing(input != "-"),
	), nil
}

// ── Relay mode ────────────────────────────────────────────────────────────────

func startRelay(ctx context.Context, cfg *config.Config, f flags, out *printer, observe func(realtime.Transition)) (session, error) {
	url := cfg.Client.RelayURL
	if url == "" {
		url = "ws://localhost" + cfg.Server.ListenAddr + "/v1/realtime"
	}
	if f.output != "" {
		ws, err := audio.CreateWAVSink(f.output, audio.Format{SampleRate: relaySampleRate, Channels: 1})
		if err != nil {
			return nil, err
		}
		out.audio = ws
	}
	c, err := negotiator.NewRelayClient(url,
		negotiator.WithEventHandler(out.Handle),
		negotiator.WithStateObserver(observe),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Dial(ctx); err != nil {
		return c, err
	}
	return c, nil
}
