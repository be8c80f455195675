//go:build portaudio

package main

import (
	"fmt"

	"github.com/scannsing/scannsing/internal/audio"
	"github.com/scannsing/scannsing/internal/capture"
)

func openMicrophone(finished func()) (*input, error) {
	if err := capture.InitPortAudio(); err != nil {
		return nil, fmt.Errorf("initializing audio: %w", err)
	}
	return &input{
		device: capture.NewPortAudioDevice(audio.DefaultSampleRate),
		player: capture.NewPortAudioPlayer(finished),
		label:  "default microphone",
		cleanup: func() {
			capture.TerminatePortAudio()
		},
	}, nil
}
