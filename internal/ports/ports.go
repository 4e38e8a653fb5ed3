package ports

import (
	"context"
	"io"

	"talkpartner/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// TranscriptSubscription yields the running transcript of one capture
// session. Updates is closed once Stop returns.
type TranscriptSubscription interface {
	Updates() <-chan domain.TranscriptUpdate
	Stop() error
}

// TranscriptionSource starts capture sessions.
type TranscriptionSource interface {
	Subscribe(ctx context.Context) (TranscriptSubscription, error)
}

// Corrector rewrites a learner's utterance into natural English.
// Throttling responses are wrapped with domain.ErrRateLimited.
type Corrector interface {
	Correct(ctx context.Context, utterance string) (domain.Correction, error)
}

// DialogueRequest is what the dialogue service receives.
type DialogueRequest struct {
	Instructions string
	Utterances   []domain.Utterance
}

// Responder produces the conversation partner's next line.
type Responder interface {
	Respond(ctx context.Context, req DialogueRequest) (domain.Reply, error)
}

// SpeechSynthesizer turns reply text into encoded audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	StatusChanged(status domain.Status)
	PartialTranscript(text string)
	MessageAppended(index int, message domain.Message)
	MessageUpdated(index int, message domain.Message)
	TurnError(code domain.ErrorCode, detail string)
}
