package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"talkpartner/internal/domain"
	"talkpartner/internal/ports"
	"talkpartner/internal/prompts"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(Config{}, nil); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := NewSynthesizer(SpeechConfig{}, nil); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestCorrectForcesFunctionCall(t *testing.T) {
	t.Parallel()

	server := newFakeAPI(t, http.StatusOK, "application/json", `{
		"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o-mini",
		"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"english_conversation_teacher",
			 "arguments":"{\"naturalAndCorrectEnglishSentences\":\"I went to the store yesterday.\",\"changes\":\"go -> went\"}"}}]}}],
		"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL + "/v1"}, nil)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	correction, err := client.Correct(context.Background(), "I go to store yesterday")
	if err != nil {
		t.Fatalf("correct failed: %v", err)
	}
	if correction.Text != "I went to the store yesterday." || correction.Explanation != "go -> went" {
		t.Fatalf("unexpected correction: %+v", correction)
	}
	if correction.Usage != (domain.Usage{Input: 10, Output: 5}) {
		t.Fatalf("unexpected usage: %+v", correction.Usage)
	}

	body := server.lastBody()
	if !strings.HasSuffix(server.lastPath(), "/chat/completions") {
		t.Fatalf("unexpected path: %s", server.lastPath())
	}
	choice, _ := body["tool_choice"].(map[string]any)
	fn, _ := choice["function"].(map[string]any)
	if choice["type"] != "function" || fn["name"] != prompts.CorrectionToolName {
		t.Fatalf("expected forced function choice, got %v", body["tool_choice"])
	}
}

func TestCorrectMapsThrottlingToRateLimited(t *testing.T) {
	t.Parallel()

	server := newFakeAPI(t, http.StatusTooManyRequests, "application/json",
		`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`)
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL + "/v1"}, nil)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if _, err := client.Correct(context.Background(), "hello"); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRespondPrependsSystemInstructions(t *testing.T) {
	t.Parallel()

	server := newFakeAPI(t, http.StatusOK, "application/json", `{
		"id":"chatcmpl-2","object":"chat.completion","model":"gpt-4o",
		"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"That's great! What did you buy?"}}],
		"usage":{"prompt_tokens":50,"completion_tokens":8,"total_tokens":58}}`)
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL + "/v1"}, nil)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	reply, err := client.Respond(context.Background(), ports.DialogueRequest{
		Instructions: "You are a partner.",
		Utterances: []domain.Utterance{
			{Role: domain.RoleUser, Text: "Hi."},
			{Role: domain.RoleAssistant, Text: "Hello!"},
		},
	})
	if err != nil {
		t.Fatalf("respond failed: %v", err)
	}
	if reply.Text != "That's great! What did you buy?" || reply.Usage != (domain.Usage{Input: 50, Output: 8}) {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	messages, _ := server.lastBody()["messages"].([]any)
	wantRoles := []string{"system", "user", "assistant"}
	if len(messages) != len(wantRoles) {
		t.Fatalf("unexpected messages: %v", messages)
	}
	for i, role := range wantRoles {
		if messages[i].(map[string]any)["role"] != role {
			t.Fatalf("message %d: expected role %s, got %v", i, role, messages[i])
		}
	}
}

func TestSynthesizeReturnsAudioWithChosenVoice(t *testing.T) {
	t.Parallel()

	server := newFakeAPI(t, http.StatusOK, "audio/mpeg", "ID3-mp3-bytes")
	defer server.Close()

	synth, err := NewSynthesizer(SpeechConfig{APIKey: "k", BaseURL: server.URL + "/v1", Voices: []string{"nova", " onyx "}}, nil)
	if err != nil {
		t.Fatalf("new synthesizer failed: %v", err)
	}
	synth.pick = func(n int) int { return n - 1 }

	audio, err := synth.Synthesize(context.Background(), "That's great!")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if string(audio) != "ID3-mp3-bytes" {
		t.Fatalf("unexpected audio: %q", audio)
	}

	body := server.lastBody()
	if !strings.HasSuffix(server.lastPath(), "/audio/speech") {
		t.Fatalf("unexpected path: %s", server.lastPath())
	}
	if body["voice"] != "onyx" || body["model"] != DefaultSpeechModel || body["input"] != "That's great!" {
		t.Fatalf("unexpected speech request: %v", body)
	}
	if _, ok := body["speed"]; ok && body["speed"] != float64(0) {
		t.Fatalf("playback speed must not be sent to synthesis: %v", body["speed"])
	}
}

func TestSynthesizeEmptyAudio(t *testing.T) {
	t.Parallel()

	server := newFakeAPI(t, http.StatusOK, "audio/mpeg", "")
	defer server.Close()

	synth, err := NewSynthesizer(SpeechConfig{APIKey: "k", BaseURL: server.URL + "/v1"}, nil)
	if err != nil {
		t.Fatalf("new synthesizer failed: %v", err)
	}
	if _, err := synth.Synthesize(context.Background(), "hi"); !errors.Is(err, ErrEmptySpeech) {
		t.Fatalf("expected ErrEmptySpeech, got %v", err)
	}
}

type fakeAPI struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []map[string]any
	paths  []string
}

func newFakeAPI(t *testing.T, status int, contentType string, response string) *fakeAPI {
	t.Helper()

	f := &fakeAPI{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.paths = append(f.paths, r.URL.Path)
		f.mu.Unlock()

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	return f
}

func (f *fakeAPI) lastBody() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

func (f *fakeAPI) lastPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[len(f.paths)-1]
}
