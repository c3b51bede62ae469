package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Step is one scripted upstream reply. A zero Status means 200 with a
// completion body wrapping Content.
type Step struct {
	Status     int
	Content    string
	Body       string
	RetryAfter string
}

// CompletionServer is a scripted OpenAI-compatible chat completion
// endpoint. Each request consumes the next step; once the script is
// exhausted the last step repeats.
type CompletionServer struct {
	*httptest.Server

	mu    sync.Mutex
	steps []Step
	calls int
}

// NewCompletionServer starts a server that replies with the given
// script. Close is registered via the returned server's Close.
func NewCompletionServer(steps ...Step) *CompletionServer {
	if len(steps) == 0 {
		steps = []Step{{Content: "ok"}}
	}
	cs := &CompletionServer{steps: steps}
	cs.Server = httptest.NewServer(http.HandlerFunc(cs.handle))
	return cs
}

// Calls reports how many requests the server has served.
func (cs *CompletionServer) Calls() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.calls
}

func (cs *CompletionServer) handle(w http.ResponseWriter, r *http.Request) {
	cs.mu.Lock()
	step := cs.steps[min(cs.calls, len(cs.steps)-1)]
	cs.calls++
	cs.mu.Unlock()

	if step.Status != 0 && step.Status != http.StatusOK {
		if step.RetryAfter != "" {
			w.Header().Set("Retry-After", step.RetryAfter)
		}
		body := step.Body
		if body == "" {
			body = fmt.Sprintf(`{"error": {"message": "scripted failure", "code": %d}}`, step.Status)
		}
		http.Error(w, body, step.Status)
		return
	}

	body := step.Body
	if body == "" {
		body = CompletionBody(step.Content)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

// CompletionBody wraps content in a minimal chat completion response.
func CompletionBody(content string) string {
	return fmt.Sprintf(`{
		"model": "qwen/qwen3-coder",
		"choices": [{"message": {"role": "assistant", "content": %q}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
	}`, content)
}
