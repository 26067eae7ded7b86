// SPDX-License-Identifier: MIT
package doa

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"doa/internal/inference"
)

// Sink persists the outputs of one execution.
type Sink interface {
	// Save writes outputs for results index..index+batchSize-1 under dir and
	// returns the directory of the first result.
	Save(outputs inference.TensorMap, dir string, index, batchSize int) (string, error)
}

// FileSink writes dir/Result_<n>/<tensor>.raw files of little-endian float32.
// Each tensor is split evenly into batchSize results.
type FileSink struct {
	// Keep bounds the result directories: index n is written to
	// Result_<n mod Keep>. Zero keeps every result.
	Keep int
}

var _ Sink = FileSink{}

func (s FileSink) Save(outputs inference.TensorMap, dir string, index, batchSize int) (string, error) {
	if batchSize < 1 {
		return "", fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("no outputs to save")
	}

	var first string
	for _, name := range outputs.Names() {
		data := outputs[name].Data()
		if len(data)%batchSize != 0 {
			return "", fmt.Errorf("output %q: %d values do not split into %d batches", name, len(data), batchSize)
		}
		chunk := len(data) / batchSize
		for b := range batchSize {
			resultDir := filepath.Join(dir, "Result_"+strconv.Itoa(s.slot(index+b)))
			if err := os.MkdirAll(resultDir, 0o755); err != nil {
				return "", err
			}
			if first == "" {
				first = resultDir
			}
			path := filepath.Join(resultDir, fileName(name)+".raw")
			if err := os.WriteFile(path, encodeFloats(data[b*chunk:(b+1)*chunk]), 0o644); err != nil {
				return "", err
			}
		}
	}
	return first, nil
}

func (s FileSink) slot(n int) int {
	if s.Keep > 0 {
		return n % s.Keep
	}
	return n
}

// fileName makes a tensor name safe to use as a file name.
func fileName(tensor string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, tensor)
}

func encodeFloats(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
