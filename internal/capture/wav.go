package capture

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/scannsing/scannsing/pkg/utils"
)

var errNoSamples = errors.New("no samples captured")

// encodeWAV writes samples as a PCM WAV file at path and returns the file
// contents.
func encodeWAV(path string, samples []int, f Format) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errNoSamples
	}
	if err := utils.EnsureParentDir(path); err != nil {
		return nil, err
	}

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating wav file: %w", err)
	}

	enc := wav.NewEncoder(out, f.SampleRate, f.BitDepth, f.Channels, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: f.Channels,
			SampleRate:  f.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: f.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		out.Close()
		return nil, fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return nil, fmt.Errorf("finalizing wav: %w", err)
	}
	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("closing wav file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading wav file: %w", err)
	}
	return data, nil
}

// decodeWAV returns the PCM buffer and format held in a WAV payload.
func decodeWAV(data []byte) (*audio.IntBuffer, Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("invalid wav data")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decoding wav: %w", err)
	}
	f := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	return buf, f, nil
}
