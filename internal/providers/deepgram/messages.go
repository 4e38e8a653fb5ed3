package deepgram

import (
	"encoding/json"
	"strings"

	"talkpartner/internal/domain"
)

const (
	messageResults      = "Results"
	messageError        = "Error"
	messageUtteranceEnd = "UtteranceEnd"

	controlKeepAlive   = `{"type":"KeepAlive"}`
	controlCloseStream = `{"type":"CloseStream"}`
)

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// liveMessage is the subset of Deepgram's live response envelope we read.
type liveMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
}

func decodeMessage(payload []byte) (liveMessage, error) {
	var msg liveMessage
	err := json.Unmarshal(payload, &msg)
	return msg, err
}

func (m liveMessage) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}

func (m liveMessage) errorText() string {
	for _, text := range []string{m.Description, m.Message} {
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return "deepgram returned an unknown error"
}

// event converts a Results message into a transcript event. ok is false for
// empty results.
func (m liveMessage) event() (domain.TranscriptEvent, bool) {
	text := m.transcript()
	if text == "" {
		return domain.TranscriptEvent{}, false
	}
	kind := domain.TranscriptKindPartial
	if m.IsFinal || m.SpeechFinal {
		kind = domain.TranscriptKindFinal
	}
	return domain.TranscriptEvent{Kind: kind, Text: text, IsSpeechFinal: m.SpeechFinal}, true
}
