package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

// printer renders provider events on the terminal. When audio is set, audio
// deltas carried in events (relay mode) are written to it.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	audio audio.Sink
	// open is true while a transcript line is being printed.
	open bool
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

// Handle is a negotiator event handler.
func (p *printer) Handle(evt realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch evt.Type {
	case realtime.EventSessionCreated:
		var sc realtime.SessionCreated
		if err := json.Unmarshal(evt.Raw, &sc); err == nil {
			slog.Info("session created", "id", sc.Session.ID, "model", sc.Session.Model)
		}
	case realtime.EventResponseTranscriptDelta:
		var d realtime.TranscriptDelta
		if err := json.Unmarshal(evt.Raw, &d); err != nil {
			return
		}
		if !p.open {
			fmt.Fprint(p.w, "assistant: ")
			p.open = true
		}
		fmt.Fprint(p.w, d.Delta)
	case realtime.EventResponseAudioDelta:
		if p.audio == nil {
			return
		}
		var d realtime.AudioDelta
		if err := json.Unmarshal(evt.Raw, &d); err != nil {
			return
		}
		pcm, err := d.PCM()
		if err != nil {
			slog.Debug("skipping audio delta", "err", err)
			return
		}
		if err := p.audio.Write(audio.AudioFrame{Data: pcm, SampleRate: relaySampleRate, Channels: 1}); err != nil {
			slog.Warn("write audio", "err", err)
		}
	case realtime.EventResponseDone:
		p.endLine()
	case realtime.EventError:
		var e realtime.ErrorEvent
		if err := json.Unmarshal(evt.Raw, &e); err == nil {
			p.endLine()
			slog.Warn("provider error", "type", e.Error.Type, "code", e.Error.Code, "message", e.Error.Message)
		}
	}
}

func (p *printer) endLine() {
	if p.open {
		fmt.Fprintln(p.w)
		p.open = false
	}
}

// Close finishes the current line and closes the audio sink.
func (p *printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	if p.audio != nil {
		return p.audio.Close()
	}
	return nil
}
