package broadcast

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BeatsChainApp/moments-sub000/internal/whatsapp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender scripts per-recipient text failures (consumed in order) and
// tracks call counts plus the peak number of concurrent in-flight sends.
type fakeSender struct {
	mu        sync.Mutex
	templates map[string]int
	texts     map[string]int
	lastText  map[string]string
	failQueue map[string][]error

	perCallDelay time.Duration
	active       int
	maxActive    int
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		templates: make(map[string]int),
		texts:     make(map[string]int),
		lastText:  make(map[string]string),
		failQueue: make(map[string][]error),
	}
}

func (f *fakeSender) failNext(recipient string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failQueue[recipient] = append(f.failQueue[recipient], errs...)
}

func (f *fakeSender) SendTemplate(ctx context.Context, to string, tmpl whatsapp.TemplateMessage) (string, error) {
	f.mu.Lock()
	f.templates[to]++
	f.mu.Unlock()
	return "tmpl-" + to, nil
}

func (f *fakeSender) SendText(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	var err error
	if q := f.failQueue[to]; len(q) > 0 {
		err, f.failQueue[to] = q[0], q[1:]
	}
	delay := f.perCallDelay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.active--
	if err == nil {
		f.texts[to]++
		f.lastText[to] = body
	}
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	return "text-" + to, nil
}

func (f *fakeSender) totalTexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.texts {
		total += n
	}
	return total
}

func (f *fakeSender) textAttempts(recipient string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Template send count equals text attempt count; the pair always
	// starts with the template.
	return f.templates[recipient]
}

func (f *fakeSender) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}
