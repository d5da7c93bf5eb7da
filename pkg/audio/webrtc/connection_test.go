package webrtc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	audiomock "github.com/MrWong99/voxbridge/pkg/audio/mock"
	"github.com/MrWong99/voxbridge/pkg/audio/webrtc"
	"github.com/MrWong99/voxbridge/pkg/audio/webrtc/mock"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

func newTestLink(t *testing.T, capt *audiomock.Capturer, sink *audiomock.Sink) *webrtc.AudioLink {
	t.Helper()
	codec := &audiomock.Codec{Format: audio.Format{SampleRate: 48000, Channels: 2}}
	link := webrtc.NewAudioLink(capt, codec, func() (audio.Decoder, error) { return codec, nil }, sink)
	t.Cleanup(func() { _ = link.Close() })
	return link
}

// waitFor polls cond until it is true, failing the test after d.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met after %v", d)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── AudioLink ────────────────────────────────────────────────────────────────

func TestAudioLink_CaptureToTrack(t *testing.T) {
	t.Parallel()

	capt := &audiomock.Capturer{Frames: []audio.AudioFrame{
		{Data: make([]byte, 1920)},
		{Data: make([]byte, 1920)},
	}}
	link := newTestLink(t, capt, &audiomock.Sink{})
	track := &mock.LocalTrack{}

	if err := link.StartCapture(context.Background(), track); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if got := track.Samples(); got != 2 {
		t.Errorf("track got %d samples, want 2", got)
	}
	if sent, _ := link.Stats(); sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
}

func TestAudioLink_CaptureFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("permission denied")
	link := newTestLink(t, &audiomock.Capturer{StartError: boom}, &audiomock.Sink{})
	if err := link.StartCapture(context.Background(), &mock.LocalTrack{}); !errors.Is(err, boom) {
		t.Fatalf("StartCapture = %v, want wrapped capturer error", err)
	}
}

func TestAudioLink_StopDuringStartReleasesCapture(t *testing.T) {
	t.Parallel()

	capt := &audiomock.Capturer{}
	link := newTestLink(t, capt, &audiomock.Sink{})
	capt.OnStart = func() {
		if err := link.StopCapture(); err != nil {
			t.Errorf("StopCapture: %v", err)
		}
	}

	if err := link.StartCapture(context.Background(), &mock.LocalTrack{}); !errors.Is(err, webrtc.ErrLinkClosed) {
		t.Fatalf("StartCapture = %v, want ErrLinkClosed", err)
	}
	if capt.Running() {
		t.Error("capturer left running after StopCapture")
	}
	if err := link.StartCapture(context.Background(), &mock.LocalTrack{}); !errors.Is(err, webrtc.ErrLinkClosed) {
		t.Errorf("StartCapture after stop = %v, want ErrLinkClosed", err)
	}
}

func TestAudioLink_RemoteToSink(t *testing.T) {
	t.Parallel()

	sink := &audiomock.Sink{}
	link := newTestLink(t, &audiomock.Capturer{}, sink)

	remote := mock.NewRemoteTrack("audio")
	defer remote.Close()
	link.HandleRemote(remote)
	remote.Push([]byte{1, 2, 3, 4})
	remote.Push([]byte{5, 6, 7, 8})

	waitFor(t, time.Second, func() bool { return len(sink.Frames()) == 2 })
	frames := sink.Frames()
	if frames[1].Timestamp != 20*time.Millisecond {
		t.Errorf("second frame timestamp = %v, want 20ms", frames[1].Timestamp)
	}
	if frames[0].SampleRate != 48000 || frames[0].Channels != 2 {
		t.Errorf("frame format = %d/%d", frames[0].SampleRate, frames[0].Channels)
	}
}

func TestAudioLink_IgnoresVideo(t *testing.T) {
	t.Parallel()

	sink := &audiomock.Sink{}
	link := newTestLink(t, &audiomock.Capturer{}, sink)
	video := mock.NewRemoteTrack("video")
	defer video.Close()
	link.HandleRemote(video)
	video.Push([]byte{1})
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.Frames()); n != 0 {
		t.Errorf("sink got %d frames from a video track", n)
	}
}

func TestAudioLink_CloseIdempotent(t *testing.T) {
	t.Parallel()

	capt := &audiomock.Capturer{}
	sink := &audiomock.Sink{}
	link := newTestLink(t, capt, sink)
	if err := link.StartCapture(context.Background(), &mock.LocalTrack{}); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := link.Close(); err != nil {
			t.Errorf("Close #%d: %v", i+1, err)
		}
	}
	if capt.CallCountStop != 1 {
		t.Errorf("capturer stopped %d times, want 1", capt.CallCountStop)
	}
	if sink.Closes() != 1 {
		t.Errorf("sink closed %d times, want 1", sink.Closes())
	}
	if err := link.StartCapture(context.Background(), &mock.LocalTrack{}); err == nil {
		t.Error("StartCapture after Close succeeded")
	}
}

func TestAudioLink_DropsRemoteAfterClose(t *testing.T) {
	t.Parallel()

	sink := &audiomock.Sink{}
	link := newTestLink(t, &audiomock.Capturer{}, sink)
	remote := mock.NewRemoteTrack("audio")
	defer remote.Close()
	link.HandleRemote(remote)

	_ = link.Close()
	remote.Push([]byte{1, 2})
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.Frames()); n != 0 {
		t.Errorf("sink got %d frames after Close", n)
	}
}

func TestConnectionState_String(t *testing.T) {
	t.Parallel()
	if got := webrtc.ConnectionStateFailed.String(); got != "failed" {
		t.Errorf("String = %q", got)
	}
}
