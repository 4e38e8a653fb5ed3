package domain

import (
	"errors"

	"github.com/google/uuid"
)

// ErrRateLimited marks a provider response that asked the client to slow down.
var ErrRateLimited = errors.New("provider rate limited the request")

// TurnState models the conversation-turn lifecycle.
type TurnState string

const (
	TurnStateIdle       TurnState = "idle"
	TurnStateCapturing  TurnState = "capturing"
	TurnStateProcessing TurnState = "processing"
)

// Status summarizes the current turn status for the UI.
type Status struct {
	State       TurnState `json:"state"`
	PartialText string    `json:"partialText,omitempty"`
}

// ErrorCode identifies backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodeCapture    ErrorCode = "capture"
	ErrorCodeCorrection ErrorCode = "correction"
	ErrorCodeResponse   ErrorCode = "response"
	ErrorCodeSynthesis  ErrorCode = "synthesis"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// Usage is the token accounting of one language-model call.
type Usage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// Message is one entry of the conversation history. User messages carry the
// corrected text, the raw transcript and the correction explanation; system
// messages carry the partner's reply and, once synthesized, its audio.
type Message struct {
	ID      string `json:"id"`
	Sender  Sender `json:"sender"`
	Text    string `json:"message"`
	RawText string `json:"rawMessage,omitempty"`
	Guide   string `json:"guide,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Audio   []byte `json:"audio,omitempty"`
}

func NewUserMessage(corrected string, raw string, guide string, usage *Usage) Message {
	return Message{
		ID:      uuid.NewString(),
		Sender:  SenderUser,
		Text:    corrected,
		RawText: raw,
		Guide:   guide,
		Usage:   usage,
	}
}

func NewSystemMessage(reply string, usage Usage) Message {
	return Message{
		ID:     uuid.NewString(),
		Sender: SenderSystem,
		Text:   reply,
		Usage:  &usage,
	}
}

func (m Message) IsUser() bool   { return m.Sender == SenderUser }
func (m Message) IsSystem() bool { return m.Sender == SenderSystem }

// HasAudio reports whether synthesized speech is attached.
func (m Message) HasAudio() bool { return len(m.Audio) > 0 }

// Setting is the presentation-owned conversation configuration passed by
// value into each turn.
type Setting struct {
	Situation   string  `json:"situation"`
	SpeechSpeed float64 `json:"speechSpeed"`
}

const (
	MinSpeechSpeed = 0.2
	MaxSpeechSpeed = 1.0
)

var ErrInvalidSpeechSpeed = errors.New("speech speed must be between 0.2 and 1.0")

// Validate checks the playback speed range offered by the settings screen.
func (s Setting) Validate() error {
	if s.SpeechSpeed < MinSpeechSpeed || s.SpeechSpeed > MaxSpeechSpeed {
		return ErrInvalidSpeechSpeed
	}
	return nil
}

// TranscriptKind identifies whether a provider event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent is one segment emitted by a streaming transcription provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// TranscriptUpdate is the running transcript of a capture session. Text is
// always the whole utterance so far, not just the latest segment.
type TranscriptUpdate struct {
	Partial bool   `json:"partial"`
	Text    string `json:"text"`
}

// Correction is the outcome of the correction call.
type Correction struct {
	Text        string
	Explanation string
	Usage       Usage
}

// Reply is the outcome of the dialogue call.
type Reply struct {
	Text  string
	Usage Usage
}

// Role tags an utterance sent to the dialogue service.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one role-tagged entry of the dialogue request.
type Utterance struct {
	Role Role
	Text string
}
