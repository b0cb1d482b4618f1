// Command realtime-poc is a standalone demo of the speech-to-speech path:
// microphone audio streams straight to the OpenAI Realtime API and reply
// audio plays back as it arrives. It shares the audio layer with the main
// binary but none of the staged pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxbotics/verba/internal/config"
	"github.com/voxbotics/verba/internal/log"
	"github.com/voxbotics/verba/pkg/audioio"
	"github.com/voxbotics/verba/pkg/realtime"
	"github.com/voxbotics/verba/pkg/vad"
)

func main() {
	model := flag.String("model", realtime.DefaultModel, "Realtime model")
	voice := flag.String("voice", "shimmer", "Reply voice")
	flag.Parse()

	log.Init("info")
	logger := log.Component("realtime-poc")

	secrets, err := config.LoadSecrets()
	if err != nil {
		logger.Error("loading secrets", "error", err)
		os.Exit(1)
	}
	if secrets.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The Realtime API speaks 24kHz PCM16 in both directions.
	audioCfg := audioio.DefaultConfig()
	audioCfg.SampleRate = 24000

	source, err := audioio.NewSource(audioCfg, log.Component("capture"))
	if err != nil {
		logger.Error("audio source", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	sink, err := audioio.NewSink(audioCfg, log.Component("playback"))
	if err != nil {
		logger.Error("audio sink", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	if err := source.Start(ctx); err != nil {
		logger.Error("starting capture", "error", err)
		os.Exit(1)
	}
	if err := sink.Start(ctx); err != nil {
		logger.Error("starting playback", "error", err)
		os.Exit(1)
	}

	var client *realtime.Client
	client = realtime.NewClient(secrets.OpenAIAPIKey, realtime.Callbacks{
		OnTranscript: func(text string, isFinal bool) {
			if isFinal {
				fmt.Printf("you: %s\n", text)
			}
		},
		OnAudio: func(pcm []byte) {
			for _, f := range audioio.FramesFromPCM(pcm, audioCfg.SampleRate, audioCfg.Channels, audioCfg.FrameSamples()) {
				if err := sink.Write(ctx, f); err != nil {
					return
				}
			}
		},
		OnSpeechStarted: func() {
			// User started talking over the reply. Drop queued audio so
			// the interruption lands immediately.
			sink.Clear()
			client.CancelResponse()
		},
		OnError: func(err error) {
			logger.Error("realtime", "error", err)
		},
	}, realtime.WithModel(*model), realtime.WithLogger(log.L()))

	session := realtime.DefaultSessionConfig()
	session.Voice = *voice
	session.Instructions = "You are Verba, a friendly robot companion. Keep replies short; they are spoken aloud."

	if err := client.Connect(session); err != nil {
		logger.Error("connecting", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	logger.Info("connected, start talking")

	// Gate uploads on the local detector so the link only carries audio
	// while someone is actually talking. The API's server VAD still owns
	// turn taking within what we send.
	detector := vad.New(vad.DefaultConfig(), log.L())

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source.Stream():
			if !ok {
				return
			}
			detector.Process(frame)
			if !detector.IsSpeaking() {
				continue
			}
			if err := client.SendAudio(frame.Bytes()); err != nil {
				logger.Error("sending audio", "error", err)
				return
			}
		}
	}
}
