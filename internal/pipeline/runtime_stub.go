//go:build !govips || !cgo

package pipeline

import "image"

func Startup() error {
	return nil
}

func Shutdown() {}

func encodeWebP(image.Image, int) ([]byte, error) {
	return nil, ErrWebPUnavailable
}
