package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"talkpartner/internal/bootstrap"
	"talkpartner/internal/config"
	"talkpartner/internal/domain"
	"talkpartner/internal/usecase"
)

const (
	eventStatus   = "talkpartner:status"
	eventPartial  = "talkpartner:partial"
	eventAppended = "talkpartner:message-appended"
	eventUpdated  = "talkpartner:message-updated"
	eventError    = "talkpartner:error"

	genericFailureMessage = "An error occurred. Please try again later."
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.TurnController
	cfg        config.Config
	logger     *zap.Logger
	bootErr    error

	settingMu sync.RWMutex
	setting   domain.Setting
}

func NewApp() *App {
	return &App{
		logger:  zap.NewNop(),
		setting: domain.Setting{Situation: config.DefaultSituation, SpeechSpeed: 1.0},
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.TurnError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.logger = services.Logger
	a.controller = services.Controller

	a.settingMu.Lock()
	a.setting = domain.Setting{
		Situation:   services.Config.Conversation.Situation,
		SpeechSpeed: services.Config.Conversation.SpeechSpeed,
	}
	a.settingMu.Unlock()

	a.StatusChanged(a.controller.Status())
}

func (a *App) shutdown(_ context.Context) {
	if a.controller != nil {
		if err := a.controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNotCapturing) {
			a.logger.Warn("failed to discard capture on shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// StartCapture opens the microphone and begins live transcription.
func (a *App) StartCapture() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// CommitCapture submits the live transcript and runs the turn to completion.
// It returns the conversation after the turn.
func (a *App) CommitCapture() ([]domain.Message, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	_, err := a.controller.Commit(a.ctx, a.GetSetting())
	if err != nil && (errors.Is(err, usecase.ErrNotCapturing) || errors.Is(err, usecase.ErrTurnInProgress)) {
		return nil, err
	}
	// Pipeline failures were already reported through TurnError.
	return a.controller.Messages()
}

// AbortCapture discards the live transcript without any network call.
func (a *App) AbortCapture() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNotCapturing) {
		return err
	}
	return nil
}

// GetStatus returns the current turn status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		return domain.Status{State: domain.TurnStateIdle}
	}
	return a.controller.Status()
}

// GetMessages returns the conversation history.
func (a *App) GetMessages() ([]domain.Message, error) {
	if a.controller == nil {
		return nil, nil
	}
	return a.controller.Messages()
}

// ResetConversation keeps the first index messages and drops the rest.
func (a *App) ResetConversation(index int) ([]domain.Message, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	if err := a.controller.Reset(index); err != nil {
		return nil, err
	}
	return a.controller.Messages()
}

// GetSetting returns the current conversation setting.
func (a *App) GetSetting() domain.Setting {
	a.settingMu.RLock()
	defer a.settingMu.RUnlock()
	return a.setting
}

// SaveSetting replaces the conversation setting. An empty situation falls
// back to the configured default.
func (a *App) SaveSetting(setting domain.Setting) (domain.Setting, error) {
	if err := setting.Validate(); err != nil {
		return a.GetSetting(), err
	}
	setting.Situation = strings.TrimSpace(setting.Situation)
	if setting.Situation == "" {
		setting.Situation = a.defaultSituation()
	}

	a.settingMu.Lock()
	a.setting = setting
	a.settingMu.Unlock()
	return setting, nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"transcription":       "Deepgram " + a.cfg.Deepgram.Model,
		"language":            a.cfg.Deepgram.Language,
		"llmProvider":         a.cfg.LLM.Provider,
		"explanationLanguage": a.cfg.Conversation.ExplanationLanguage,
		"speechModel":         a.cfg.Speech.Model,
		"audioBackend":        a.cfg.Audio.Backend,
		"audioInput":          a.cfg.Audio.InputDevice,
	}
}

func (a *App) defaultSituation() string {
	if a.cfg.Conversation.Situation != "" {
		return a.cfg.Conversation.Situation
	}
	return config.DefaultSituation
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StatusChanged emits turn lifecycle updates to the frontend.
func (a *App) StatusChanged(status domain.Status) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventStatus, map[string]string{
		"state":       string(status.State),
		"partialText": status.PartialText,
		"message":     statusMessage(status.State),
	})
}

// PartialTranscript emits the running transcript while capturing.
func (a *App) PartialTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPartial, map[string]string{"text": text})
}

// MessageAppended emits a new conversation entry.
func (a *App) MessageAppended(index int, message domain.Message) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAppended, a.messagePayload(index, message))
}

// MessageUpdated emits a changed entry, such as a reply whose audio arrived.
func (a *App) MessageUpdated(index int, message domain.Message) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventUpdated, a.messagePayload(index, message))
}

// TurnError emits backend errors to the UI. The detail is logged here and
// never forwarded to the webview.
func (a *App) TurnError(code domain.ErrorCode, detail string) {
	a.logger.Warn("turn error", zap.String("code", string(code)), zap.String("detail", detail))
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, errorPayload(code))
}

// messagePayload carries the playback rate with each message; synthesis
// itself always runs at normal speed.
func (a *App) messagePayload(index int, message domain.Message) map[string]any {
	return map[string]any{
		"index":        index,
		"message":      message,
		"playbackRate": a.GetSetting().SpeechSpeed,
	}
}

func statusMessage(state domain.TurnState) string {
	switch state {
	case domain.TurnStateIdle:
		return "Ready"
	case domain.TurnStateCapturing:
		return "Listening..."
	case domain.TurnStateProcessing:
		return "Thinking..."
	default:
		return ""
	}
}

func errorPayload(code domain.ErrorCode) map[string]string {
	return map[string]string{
		"code":    string(code),
		"message": errorMessage(code),
	}
}

func errorMessage(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeCapture:
		return "Microphone or transcription error"
	case domain.ErrorCodeCorrection, domain.ErrorCodeResponse:
		return genericFailureMessage
	case domain.ErrorCodeSynthesis:
		return "Speech synthesis failed"
	default:
		return "Unknown error"
	}
}
