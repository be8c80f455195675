//go:build !portaudio

package main

import "errors"

func openMicrophone(finished func()) (*input, error) {
	return nil, errors.New("built without microphone support; rebuild with -tags portaudio or pass --listen <file>")
}
