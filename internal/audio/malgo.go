package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"talkpartner/internal/ports"
)

// MalgoCapture records the default input device through miniaudio, without
// an external process.
type MalgoCapture struct {
	logger *zap.Logger
}

func NewMalgoCapture(logger *zap.Logger) *MalgoCapture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MalgoCapture{logger: logger}
}

func (c *MalgoCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withDefaults(cfg)

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		c.logger.Debug("malgo", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	session := newChunkSession(64)
	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * cfg.Channels

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.SampleRate = uint32(cfg.SampleRate)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = uint32(cfg.Channels)
	deviceCfg.Alsa.NoMMap = 1
	deviceCfg.PerformanceProfile = malgo.LowLatency

	device, err := malgo.InitDevice(audioCtx.Context, deviceCfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n {
				return
			}
			if !session.push(input[:n]) {
				c.logger.Debug("dropping microphone frames, reader is behind")
			}
		},
	})
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	session.release = func() error {
		stopErr := device.Stop()
		device.Uninit()
		ctxErr := audioCtx.Uninit()
		audioCtx.Free()
		return errors.Join(stopErr, ctxErr)
	}
	return session, nil
}

// chunkSession adapts push-style device callbacks to io.Reader.
type chunkSession struct {
	chunks  chan []byte
	pending []byte

	mu      sync.Mutex
	stopped bool
	release func() error

	stopOnce sync.Once
	stopErr  error
}

func newChunkSession(depth int) *chunkSession {
	return &chunkSession{chunks: make(chan []byte, depth)}
}

// push queues a copy of chunk. It reports false when the chunk was dropped.
func (s *chunkSession) push(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	select {
	case s.chunks <- append([]byte(nil), chunk...):
		return true
	default:
		return false
	}
}

func (s *chunkSession) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		chunk, ok := <-s.chunks
		if !ok {
			return 0, io.EOF
		}
		s.pending = chunk
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *chunkSession) Close() error {
	return s.Stop()
}

func (s *chunkSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.release != nil {
			s.stopErr = s.release()
		}
		s.mu.Lock()
		s.stopped = true
		close(s.chunks)
		s.mu.Unlock()
	})
	return s.stopErr
}
