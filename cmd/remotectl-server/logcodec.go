// Copyright 2026 The Remotectl Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Run logs are stored compressed once they are big enough for zstd to
// pay for itself. The log_encoding column records which path was
// taken, so the threshold can change without a migration.
const (
	logEncodingPlain = "plain"
	logEncodingZstd  = "zstd"

	// compressThreshold is the log size, in bytes, above which logs
	// are zstd-compressed at rest. Shell output compresses well
	// (repetitive lines); tiny logs are not worth the frame overhead.
	compressThreshold = 4096
)

// zstdEncoder and zstdDecoder are reused across calls. Both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeLog returns the at-rest form of a run log and its encoding
// tag. Logs under the threshold, and logs that zstd cannot shrink, are
// stored plain.
func encodeLog(log string) ([]byte, string) {
	data := []byte(log)
	if len(data) < compressThreshold {
		return data, logEncodingPlain
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, logEncodingPlain
	}
	return compressed, logEncodingZstd
}

// decodeLog reverses encodeLog.
func decodeLog(blob []byte, encoding string) (string, error) {
	switch encoding {
	case "", logEncodingPlain:
		return string(blob), nil
	case logEncodingZstd:
		data, err := zstdDecoder.DecodeAll(blob, nil)
		if err != nil {
			return "", fmt.Errorf("zstd decompress: %w", err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unknown log encoding %q", encoding)
	}
}
