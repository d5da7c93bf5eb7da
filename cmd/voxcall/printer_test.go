package main

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/audio/mock"
	"github.com/MrWong99/voxbridge/pkg/realtime"
)

func event(t *testing.T, raw string) realtime.Event {
	t.Helper()
	evt, err := realtime.ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseEvent(%s): %v", raw, err)
	}
	return evt
}

func TestPrinter_Transcript(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := newPrinter(&buf)

	p.Handle(event(t, `{"type":"response.audio_transcript.delta","delta":"Hel"}`))
	p.Handle(event(t, `{"type":"response.audio_transcript.delta","delta":"lo."}`))
	p.Handle(event(t, `{"type":"response.done"}`))
	p.Handle(event(t, `{"type":"response.audio_transcript.delta","delta":"Bye"}`))
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	if got, want := buf.String(), "assistant: Hello.\nassistant: Bye\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPrinter_AudioDeltas(t *testing.T) {
	t.Parallel()
	sink := &mock.Sink{}
	p := newPrinter(&bytes.Buffer{})
	p.audio = sink

	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	p.Handle(event(t, `{"type":"response.audio.delta","delta":"`+base64.StdEncoding.EncodeToString(pcm)+`"}`))
	p.Handle(event(t, `{"type":"response.audio.delta","delta":"!!not base64"}`))
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	frames := sink.Frames()
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].SampleRate != relaySampleRate || !bytes.Equal(frames[0].Data, pcm) {
		t.Errorf("frame = %+v", frames[0])
	}
	if sink.Closes() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.Closes())
	}
}
