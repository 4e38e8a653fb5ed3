package transcription

import (
	"errors"
	"fmt"
	"io"
	"time"

	"talkpartner/internal/ports"
)

const (
	defaultChunkSize    = 4096
	minChunkSize        = 256
	defaultCloseTimeout = 4 * time.Second
)

// pumpAudio copies microphone chunks into the provider stream until the
// capture ends. It returns nil on a clean end of input.
func pumpAudio(audio ports.AudioSession, stream ports.StreamingSession, chunkSize int) error {
	if chunkSize < minChunkSize {
		chunkSize = defaultChunkSize
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return fmt.Errorf("stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read microphone: %w", err)
		}
	}
}

// waitForStream waits for the provider to flush its last results, forcing the
// connection closed once timeout elapses.
func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = session.Close()
		return <-done
	}
}
