package voice

import (
	"errors"
	"fmt"
	"io"

	"medintake/internal/ports"
)

// pumpMicAudio copies captured PCM into the call stream until the
// capture ends or the stream rejects a write.
func pumpMicAudio(
	audio ports.AudioSession,
	stream ports.VoiceStream,
	chunkSize int,
	onError func(err error),
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				onError(fmt.Errorf("failed to stream microphone audio: %w", sendErr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				onError(fmt.Errorf("microphone capture error: %w", err))
			}
			return
		}
	}
}
