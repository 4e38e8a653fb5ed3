package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"talkpartner/internal/ports"
)

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopGrace    = 1200 * time.Millisecond
)

// FFmpegCapture records the microphone as raw s16le PCM through an ffmpeg
// child process.
type FFmpegCapture struct {
	command      string
	startupGrace time.Duration
	stopGrace    time.Duration
	logger       *zap.Logger
}

func NewFFmpegCapture(command string, logger *zap.Logger) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegCapture{
		command:      command,
		startupGrace: defaultStartupGrace,
		stopGrace:    defaultStopGrace,
		logger:       logger,
	}
}

func (c *FFmpegCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cmd := exec.CommandContext(ctx, c.command, ffmpegArgs(withDefaults(cfg))...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	// A missing device makes ffmpeg exit almost immediately.
	timer := time.NewTimer(c.startupGrace)
	defer timer.Stop()
	select {
	case err := <-exited:
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("ffmpeg exited before capture started: %s", detail)
	case <-timer.C:
	}

	c.logger.Debug("ffmpeg capture started", zap.Int("pid", cmd.Process.Pid))
	return &ffmpegSession{
		stdout:    stdout,
		stderr:    stderr,
		process:   cmd.Process,
		exited:    exited,
		stopGrace: c.stopGrace,
	}, nil
}

func withDefaults(cfg ports.AudioConfig) ports.AudioConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func ffmpegArgs(cfg ports.AudioConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process   *os.Process
	exited    <-chan error
	stopGrace time.Duration

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg so it flushes, killing it if it lingers.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		timer := time.NewTimer(s.stopGrace)
		defer timer.Stop()

		var err error
		select {
		case err = <-s.exited:
		case <-timer.C:
			_ = s.process.Kill()
			err = <-s.exited
		}
		s.stopErr = ignoreExitStatus(err)

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

// ignoreExitStatus drops the non-zero exit an interrupted ffmpeg reports.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
