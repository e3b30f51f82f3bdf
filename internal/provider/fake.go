package provider

import (
	"context"
	"fmt"
	"sync"
)

// Fake is the deterministic test double. Outcomes are keyed by (to, body);
// a key with queued outcomes pops one per Send, so a sequence like
// [transient, permanent] exercises the retry path. Keys without injected
// outcomes succeed with a generated SID.
type Fake struct {
	mu       sync.Mutex
	outcomes map[string][]error
	calls    []FakeCall
	sidSeq   int
}

// FakeCall records one Send invocation.
type FakeCall struct {
	To   string
	Body string
}

// NewFake creates an empty fake that accepts everything.
func NewFake() *Fake {
	return &Fake{outcomes: map[string][]error{}}
}

func fakeKey(to, body string) string { return to + "\x00" + body }

// Inject queues outcomes for (to, body), consumed in order. A nil error
// means success.
func (f *Fake) Inject(to, body string, outcomes ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fakeKey(to, body)
	f.outcomes[key] = append(f.outcomes[key], outcomes...)
}

// Send implements Client.
func (f *Fake) Send(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, FakeCall{To: to, Body: body})

	key := fakeKey(to, body)
	if queue := f.outcomes[key]; len(queue) > 0 {
		outcome := queue[0]
		f.outcomes[key] = queue[1:]
		if outcome != nil {
			return "", outcome
		}
	}
	f.sidSeq++
	return fmt.Sprintf("SMfake%06d", f.sidSeq), nil
}

// Calls returns a copy of all recorded Send invocations.
func (f *Fake) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo counts Send invocations for one recipient.
func (f *Fake) CallsTo(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.To == to {
			n++
		}
	}
	return n
}
