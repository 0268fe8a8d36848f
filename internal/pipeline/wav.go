package pipeline

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"vidscribe/internal/services"
)

const wavHeaderSize = 44

// ValidateWAV checks that path starts with a RIFF/WAVE header and carries
// audio data after it.
func ValidateWAV(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageConverting, "validate wav", "open output", err)
	}
	defer file.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(file, header); err != nil {
		return services.Wrap(services.ErrValidation, stageConverting, "validate wav", "short header", err)
	}
	if !bytes.Equal(header[0:4], []byte("RIFF")) || !bytes.Equal(header[8:12], []byte("WAVE")) {
		return services.Wrap(services.ErrValidation, stageConverting, "validate wav", fmt.Sprintf("unexpected header %q", header), nil)
	}
	info, err := file.Stat()
	if err != nil {
		return services.Wrap(services.ErrValidation, stageConverting, "validate wav", "stat output", err)
	}
	if info.Size() <= wavHeaderSize {
		return services.Wrap(services.ErrValidation, stageConverting, "validate wav", "no audio samples", nil)
	}
	return nil
}
