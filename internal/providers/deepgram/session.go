package deepgram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"talkpartner/internal/domain"
)

var errSendClosed = errors.New("audio stream is already closed")

type session struct {
	conn      *websocket.Conn
	keepAlive time.Duration
	logger    *zap.Logger

	events chan domain.TranscriptEvent
	audio  chan []byte
	done   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	sendMu     sync.RWMutex
	sendClosed bool

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func startSession(ctx context.Context, conn *websocket.Conn, keepAlive time.Duration, logger *zap.Logger) *session {
	s := &session{
		conn:      conn,
		keepAlive: keepAlive,
		logger:    logger,
		events:    make(chan domain.TranscriptEvent, 64),
		audio:     make(chan []byte, 32),
		done:      make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errSendClosed
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("deepgram session closed")
	}
}

// CloseSend flushes queued audio and asks Deepgram to finalize the stream.
func (s *session) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *session) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *session) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *session) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *session) setErr(err error) {
	if err == nil {
		return
	}
	if isNormalClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// isNormalClose reports whether err, possibly wrapped, is a clean websocket
// close from either side.
func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

// writeLoop is the only writer on the connection. It keeps the stream alive
// during silence and sends CloseStream once audio is exhausted.
func (s *session) writeLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case chunk, open := <-s.audio:
			if !open {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(controlCloseStream)); err != nil {
					s.setErr(fmt.Errorf("close deepgram stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("send audio: %w", err))
				return
			}
			ticker.Reset(s.keepAlive)
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(controlKeepAlive)); err != nil {
				s.setErr(fmt.Errorf("send keepalive: %w", err))
				return
			}
		}
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("read deepgram message: %w", err))
			return
		}

		msg, err := decodeMessage(payload)
		if err != nil {
			s.logger.Debug("skipping undecodable deepgram message", zap.Error(err))
			continue
		}

		switch {
		case strings.EqualFold(msg.Type, messageError):
			s.setErr(errors.New(msg.errorText()))
			return
		case strings.EqualFold(msg.Type, messageUtteranceEnd):
			s.logger.Debug("deepgram utterance end")
		case msg.Type == "" || strings.EqualFold(msg.Type, messageResults):
			if event, ok := msg.event(); ok {
				s.emit(event)
			}
		}
	}
}

func (s *session) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("transcript event dropped, consumer is behind", zap.String("kind", string(event.Kind)))
	}
}
