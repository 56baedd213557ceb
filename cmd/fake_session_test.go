package cmd

import (
	"context"
	"fmt"
	"sync"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/critcss/internal/browser"
	"github.com/xkilldash9x/critcss/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fakeHandle struct{ url string }

func (h fakeHandle) ID() string  { return "fake:" + h.url }
func (h fakeHandle) URL() string { return h.url }
func (h fakeHandle) Owned() bool { return true }

// fakeSession serves the same two rules for every page: .hero is above the fold, .footer is not.
type fakeSession struct {
	mu        sync.Mutex
	failURLs  map[string]bool
	viewports []string
	cfg       config.BrowserConfig
	shutdowns int
}

func (s *fakeSession) GetPage(ctx context.Context, url string) (browser.PageHandle, error) {
	if s.failURLs[url] {
		return nil, &browser.NavigationError{URL: url, Err: fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")}
	}
	return fakeHandle{url: url}, nil
}

func (s *fakeSession) SetViewport(ctx context.Context, page browser.PageHandle, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewports = append(s.viewports, fmt.Sprintf("%dx%d", width, height))
	return nil
}

func (s *fakeSession) Evaluate(ctx context.Context, page browser.PageHandle, script browser.Script, result any, args ...any) error {
	var reply any
	switch script.Name {
	case "collectRules":
		reply = map[string]any{
			"rules": []map[string]any{
				{"sheet": 0, "index": 0, "kind": "style", "selector": ".hero", "text": ".hero { color: red; }"},
				{"sheet": 0, "index": 1, "kind": "style", "selector": ".footer", "text": ".footer { color: blue; }"},
			},
			"skipped": []any{},
		}
	case "checkSelectors":
		reply = map[string]any{
			"selectors": map[string]any{
				".hero":   map[string]bool{"matched": true, "inViewport": true},
				".footer": map[string]bool{"matched": true, "inViewport": false},
			},
			"fonts":      []string{},
			"animations": []string{},
		}
	default:
		return &browser.EvaluationError{URL: page.URL(), Script: script.Name, Err: fmt.Errorf("unknown script")}
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (s *fakeSession) ReleasePage(ctx context.Context, page browser.PageHandle) error { return nil }

func (s *fakeSession) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdowns++
	return nil
}

// useFakeSession replaces the browser factory for the duration of the test.
func useFakeSession(t *testing.T, s *fakeSession) {
	t.Helper()
	original := newBrowserSession
	newBrowserSession = func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) browserSession {
		s.cfg = cfg
		return s
	}
	t.Cleanup(func() { newBrowserSession = original })
}
