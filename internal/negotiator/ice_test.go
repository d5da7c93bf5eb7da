package negotiator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio/webrtc/mock"
)

func TestAwaitGathering(t *testing.T) {
	t.Parallel()

	const timeout = 5 * time.Second

	tests := []struct {
		name   string
		preset bool // gathering already complete before the race starts
		fire   func(p *mock.PeerConnection)
		want   string
	}{
		{
			name: "gathering complete",
			fire: func(p *mock.PeerConnection) { p.FireGatheringComplete() },
			want: triggerComplete,
		},
		{
			name: "end of candidates",
			fire: func(p *mock.PeerConnection) {
				p.FireCandidate("candidate:1 1 udp 1 10.0.0.1 5000 typ host", false)
				p.FireCandidate("", true)
			},
			want: triggerEndOfCandidates,
		},
		{
			name:   "already complete",
			preset: true,
			want:   triggerComplete,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pc := &mock.PeerConnection{GatherOnOffer: tc.preset}
			_ = pc.CreateOffer()

			if tc.fire != nil {
				go func() {
					// Wait until the race has registered its listeners.
					for !pc.HasGatheringHandlers() {
						time.Sleep(time.Millisecond)
					}
					tc.fire(pc)
				}()
			}

			start := time.Now()
			got, err := awaitGathering(context.Background(), pc, timeout)
			if err != nil {
				t.Fatalf("awaitGathering: %v", err)
			}
			if got != tc.want {
				t.Errorf("trigger = %q, want %q", got, tc.want)
			}
			if elapsed := time.Since(start); elapsed >= timeout {
				t.Errorf("early signal waited %v", elapsed)
			}
			if pc.HasGatheringHandlers() {
				t.Error("listeners not removed")
			}
		})
	}
}

func TestAwaitGathering_TimeoutResolvesOnce(t *testing.T) {
	t.Parallel()

	pc := &mock.PeerConnection{}
	_ = pc.CreateOffer()

	start := time.Now()
	got, err := awaitGathering(context.Background(), pc, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("awaitGathering: %v", err)
	}
	if got != triggerTimeout {
		t.Errorf("trigger = %q, want %q", got, triggerTimeout)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("resolved after %v, before the timeout", elapsed)
	}
	if pc.HasGatheringHandlers() {
		t.Error("listeners not removed")
	}

	// Late signals find no listener and must not block or panic.
	pc.FireGatheringComplete()
	pc.FireCandidate("", true)
}

func TestAwaitGathering_ConcurrentSignals(t *testing.T) {
	t.Parallel()

	pc := &mock.PeerConnection{}
	_ = pc.CreateOffer()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if i%2 == 0 {
				pc.FireGatheringComplete()
			} else {
				pc.FireCandidate("", true)
			}
		}()
	}

	done := make(chan string, 1)
	go func() {
		got, _ := awaitGathering(context.Background(), pc, 5*time.Second)
		done <- got
	}()
	for !pc.HasGatheringHandlers() {
		time.Sleep(time.Millisecond)
	}
	close(start)
	wg.Wait()

	select {
	case got := <-done:
		if got != triggerComplete && got != triggerEndOfCandidates {
			t.Errorf("trigger = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("race did not resolve")
	}
}

func TestAwaitGathering_Cancelled(t *testing.T) {
	t.Parallel()

	pc := &mock.PeerConnection{}
	_ = pc.CreateOffer()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := awaitGathering(ctx, pc, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if pc.HasGatheringHandlers() {
		t.Error("listeners not removed")
	}
}
