package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/scannsing/scannsing/internal/audio"
	"github.com/scannsing/scannsing/internal/capture"
	"github.com/scannsing/scannsing/pkg/logger"
	"github.com/scannsing/scannsing/pkg/scannsing"
)

// input is where recordings come from.
type input struct {
	device  scannsing.Device
	player  scannsing.Player
	label   string
	cleanup func()
}

// openInput returns a device that hears listen as if it started playing at
// second at, or the microphone when listen is empty. finished runs when
// sample playback reaches its end.
func openInput(listen string, at float64, finished func()) (*input, error) {
	if listen == "" {
		return openMicrophone(finished)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	label := listen
	if tags, err := audio.ReadTags(ctx, listen); err == nil {
		label = tags.Label()
	} else {
		logger.GetLogger().Debugf("no tags for %s: %v", listen, err)
	}

	path := listen
	if !audio.IsWAV(listen) {
		converted, err := audio.ConvertToMonoWAV(ctx, listen, tempDir, audio.ConvertWAVConfig{})
		if err != nil {
			return nil, fmt.Errorf("converting %s: %w", listen, err)
		}
		path = converted
	}

	dev, err := capture.NewFileDevice(path, at, clockwork.NewRealClock())
	if err != nil {
		return nil, err
	}
	return &input{
		device:  dev,
		label:   fmt.Sprintf("%s from %.1fs (%.0fs long)", label, at, dev.Duration()),
		cleanup: func() {},
	}, nil
}
