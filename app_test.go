package main

import (
	"errors"
	"testing"

	"talkpartner/internal/config"
	"talkpartner/internal/domain"
)

func TestStatusMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.TurnState]string{
		domain.TurnStateIdle:       "Ready",
		domain.TurnStateCapturing:  "Listening...",
		domain.TurnStateProcessing: "Thinking...",
	}
	for state, want := range cases {
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()
			if got := statusMessage(state); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := statusMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown state message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:    "Startup failed",
		domain.ErrorCodeCapture:    "Microphone or transcription error",
		domain.ErrorCodeCorrection: "An error occurred. Please try again later.",
		domain.ErrorCodeResponse:   "An error occurred. Please try again later.",
		domain.ErrorCodeSynthesis:  "Speech synthesis failed",
	}
	for code, want := range cases {
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown"); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestErrorPayloadOmitsDetail(t *testing.T) {
	t.Parallel()

	for _, code := range []domain.ErrorCode{
		domain.ErrorCodeCorrection,
		domain.ErrorCodeResponse,
		domain.ErrorCodeCapture,
		"unknown",
	} {
		payload := errorPayload(code)
		if len(payload) != 2 || payload["code"] != string(code) {
			t.Fatalf("%s: unexpected payload: %v", code, payload)
		}
		if _, ok := payload["detail"]; ok {
			t.Fatalf("%s: detail must not reach the webview: %v", code, payload)
		}
		if payload["message"] != errorMessage(code) {
			t.Fatalf("%s: unexpected message: %q", code, payload["message"])
		}
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartCapture(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from StartCapture, got %v", err)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("expected boot error in runtime info, got %v", info)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if status := app.GetStatus(); status.State != domain.TurnStateIdle {
		t.Fatalf("unexpected status: %+v", status)
	}
	if messages, err := app.GetMessages(); messages != nil || err != nil {
		t.Fatalf("expected no messages, got %v %v", messages, err)
	}
}

func TestSaveSettingValidatesSpeed(t *testing.T) {
	t.Parallel()

	app := NewApp()
	before := app.GetSetting()

	for _, speed := range []float64{0.1, 1.5, 0} {
		if _, err := app.SaveSetting(domain.Setting{Situation: "x", SpeechSpeed: speed}); !errors.Is(err, domain.ErrInvalidSpeechSpeed) {
			t.Fatalf("speed %v: expected ErrInvalidSpeechSpeed, got %v", speed, err)
		}
	}
	if app.GetSetting() != before {
		t.Fatalf("rejected settings must not be stored")
	}

	saved, err := app.SaveSetting(domain.Setting{Situation: "  A cafe in London.  ", SpeechSpeed: 0.6})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.Situation != "A cafe in London." || saved.SpeechSpeed != 0.6 {
		t.Fatalf("unexpected saved setting: %+v", saved)
	}
	if app.GetSetting() != saved {
		t.Fatalf("expected stored setting %+v, got %+v", saved, app.GetSetting())
	}
}

func TestSaveSettingFallsBackToDefaultSituation(t *testing.T) {
	t.Parallel()

	app := NewApp()
	saved, err := app.SaveSetting(domain.Setting{Situation: "   ", SpeechSpeed: 1.0})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.Situation != config.DefaultSituation {
		t.Fatalf("expected default situation, got %q", saved.Situation)
	}

	app.cfg.Conversation.Situation = "Configured situation"
	saved, _ = app.SaveSetting(domain.Setting{SpeechSpeed: 0.2})
	if saved.Situation != "Configured situation" {
		t.Fatalf("expected configured situation, got %q", saved.Situation)
	}
}

func TestMessagePayloadCarriesPlaybackRate(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if _, err := app.SaveSetting(domain.Setting{Situation: "s", SpeechSpeed: 0.4}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	message := domain.NewSystemMessage("hi", domain.Usage{})
	payload := app.messagePayload(3, message)
	if payload["index"] != 3 || payload["playbackRate"] != 0.4 {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if got := payload["message"].(domain.Message); got.ID != message.ID {
		t.Fatalf("unexpected message in payload: %+v", got)
	}
}

func TestEventSinkWithoutContextIsNoop(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.StatusChanged(domain.Status{State: domain.TurnStateIdle})
	app.PartialTranscript("hello")
	app.MessageAppended(0, domain.Message{})
	app.MessageUpdated(0, domain.Message{})
	app.TurnError(domain.ErrorCodeCapture, "x")
}
