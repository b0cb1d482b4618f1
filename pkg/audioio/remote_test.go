package audioio

import (
	"context"
	"math"
	"testing"
	"time"

	"gopkg.in/hraban/opus.v2"
)

func TestRemoteSourceIngestDeliversFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendRemote

	src, err := NewRemoteSource(cfg, nil)
	if err != nil {
		t.Fatalf("NewRemoteSource: %v", err)
	}
	defer src.Close()

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	frameSize := cfg.SampleRate / 50 // 20ms packets
	pcm := make([]int16, frameSize)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(cfg.SampleRate)))
	}
	packet := make([]byte, 4000)
	n, err := enc.Encode(pcm, packet)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if err := src.IngestOpus(packet[:n]); err != nil {
		t.Fatalf("IngestOpus: %v", err)
	}

	select {
	case f := <-src.Stream():
		if len(f.Samples) != frameSize {
			t.Errorf("decoded %d samples; want %d", len(f.Samples), frameSize)
		}
		if f.SampleRate != cfg.SampleRate || f.Channels != cfg.Channels {
			t.Errorf("frame format = %d/%d; want %d/%d",
				f.SampleRate, f.Channels, cfg.SampleRate, cfg.Channels)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
	}

	stats := src.Stats()
	if stats.FramesRead != 1 || stats.Backend != "remote" {
		t.Errorf("stats = %+v; want one frame on the remote backend", stats)
	}
}

func TestRemoteSourceIngestRejectsGarbage(t *testing.T) {
	src, err := NewRemoteSource(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewRemoteSource: %v", err)
	}
	defer src.Close()
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := src.IngestOpus([]byte{0xDE, 0xAD, 0xBE, 0xEF}); err == nil {
		t.Error("garbage packet should fail to decode")
	}
}

func TestRemoteSourceIngestAfterStopIsDiscarded(t *testing.T) {
	src, err := NewRemoteSource(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewRemoteSource: %v", err)
	}
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := src.IngestOpus([]byte{0xDE, 0xAD}); err != nil {
		t.Errorf("ingest after stop should be a no-op, got %v", err)
	}
}
