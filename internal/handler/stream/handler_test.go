package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/evacsim/backend/internal/model/chat"
	"github.com/zhouzirui/evacsim/backend/internal/service/planner"
	"github.com/zhouzirui/evacsim/backend/internal/service/simulate"
	"github.com/zhouzirui/evacsim/backend/internal/service/turn"
)

type fakeAuto struct {
	lines []chat.TranscriptLine
	err   error
}

func (f *fakeAuto) Run(_ context.Context, c planner.Character, onLine simulate.LineFunc) (*simulate.Transcript, error) {
	t := &simulate.Transcript{SessionID: string(c) + "_1"}
	for _, line := range f.lines {
		if err := onLine(line); err != nil {
			return t, err
		}
		t.Lines = append(t.Lines, line)
		t.Text += line.Speaker + ": " + line.Message + "\n"
	}
	if f.err != nil {
		return t, f.err
	}
	t.Decision = "Evacuate"
	return t, nil
}

func serve(auto AutoRunner, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New(auto, nil).RegisterRoutes(r)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestAutoStreamSendsLinesThenDone(t *testing.T) {
	auto := &fakeAuto{lines: []chat.TranscriptLine{
		{Speaker: "Agent", Message: "Hello, are you okay?", Category: "greetings"},
		{Speaker: "Bob", Message: "I'm working.", Category: "response_to_operator_greetings"},
	}}
	resp := serve(auto, "/stream/auto/bob")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}

	body := resp.Body.String()
	if strings.Count(body, "event: line\n") != 2 {
		t.Fatalf("expected two line events, got:\n%s", body)
	}
	if !strings.Contains(body, `"message":"I'm working."`) {
		t.Fatalf("missing second line:\n%s", body)
	}
	if !strings.Contains(body, "event: done\n") || !strings.Contains(body, `"decision":"Evacuate"`) {
		t.Fatalf("missing done event:\n%s", body)
	}
	if strings.Index(body, "event: done") < strings.LastIndex(body, "event: line") {
		t.Fatalf("done must be the last event")
	}
}

func TestAutoStreamErrorAfterLines(t *testing.T) {
	auto := &fakeAuto{
		lines: []chat.TranscriptLine{{Speaker: "Agent", Message: "Hello."}},
		err:   errors.New("model down"),
	}
	resp := serve(auto, "/stream/auto/ross")

	body := resp.Body.String()
	if !strings.Contains(body, "event: error\n") || !strings.Contains(body, "model down") {
		t.Fatalf("expected error event, got:\n%s", body)
	}
	if strings.Contains(body, "event: done") {
		t.Fatalf("failed stream must not send done")
	}
}

func TestAutoStreamRejectsUnknownCharacter(t *testing.T) {
	resp := serve(&fakeAuto{}, "/stream/auto/zoe")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestAutoStreamPersonaMissingBeforeFirstLine(t *testing.T) {
	resp := serve(&fakeAuto{err: turn.ErrPersonaNotFound}, "/stream/auto/tom")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestAutoStreamRejectsAgent(t *testing.T) {
	auto := &fakeAuto{}
	resp := serve(auto, "/stream/auto/julie")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
