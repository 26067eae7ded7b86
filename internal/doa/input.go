// SPDX-License-Identifier: MIT
package doa

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// checkPath requires a non-empty regular file.
func checkPath(path, what string) error {
	if path == "" {
		return fmt.Errorf("%w: %s path is empty", ErrInvalidPath, what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPath, what, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s %s is not a regular file", ErrInvalidPath, what, path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s %s is empty", ErrInvalidPath, what, path)
	}
	return nil
}

// LoadInput reads a raw tensor file of little-endian float32 values.
func LoadInput(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %s holds %d bytes, not a whole number of float32 values", ErrInvalidInput, path, len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// WriteInput stores samples in the format LoadInput reads.
func WriteInput(path string, samples []float32) error {
	buf := make([]byte, 4*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return os.WriteFile(path, buf, 0o644)
}
