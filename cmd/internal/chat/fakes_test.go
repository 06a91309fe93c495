package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	apiv1 "devmatch/contracts/api/v1"
	rtv1 "devmatch/contracts/realtime/v1"
)

var errBoom = errors.New("boom")

// fakeAPI is a scripted API. Zero-valued fields produce zero results.
type fakeAPI struct {
	mu sync.Mutex

	chat    apiv1.Chat
	chatErr error
	// onGetChat runs inside GetChat before the result is returned.
	onGetChat func()
	user    apiv1.User
	userErr error

	sendResp apiv1.Chat
	sendErr  error
	sendGate chan struct{} // when non-nil, SendMessage blocks until closed

	sends []string
}

func (f *fakeAPI) GetChat(context.Context, string) (apiv1.Chat, error) {
	f.mu.Lock()
	hook := f.onGetChat
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chat, f.chatErr
}

func (f *fakeAPI) setChatHook(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onGetChat = fn
}

func (f *fakeAPI) GetUser(context.Context, string) (apiv1.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user, f.userErr
}

func (f *fakeAPI) SendMessage(_ context.Context, _ string, text string) (apiv1.Chat, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, text)
	return f.sendResp, f.sendErr
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type emitted struct {
	Type    string
	Payload any
}

// fakeTransport records emits and lets tests push inbound envelopes.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]map[int]func(rtv1.Envelope)
	nextID   int
	emits    []emitted
	emitErr  map[string]error
	released int
	done     chan struct{}
	// onEmit runs after an emit was recorded, outside the lock.
	onEmit func(eventType string)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers: make(map[string]map[int]func(rtv1.Envelope)),
		emitErr:  make(map[string]error),
		done:     make(chan struct{}),
	}
}

func (f *fakeTransport) On(eventType string, fn func(rtv1.Envelope)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	if f.handlers[eventType] == nil {
		f.handlers[eventType] = make(map[int]func(rtv1.Envelope))
	}
	f.handlers[eventType][id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[eventType], id)
	}
}

func (f *fakeTransport) Emit(_ context.Context, eventType string, payload any) error {
	f.mu.Lock()
	if err := f.emitErr[eventType]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.emits = append(f.emits, emitted{Type: eventType, Payload: payload})
	hook := f.onEmit
	f.mu.Unlock()

	if hook != nil {
		hook(eventType)
	}
	return nil
}

func (f *fakeTransport) setEmitHook(fn func(eventType string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEmit = fn
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeTransport) failEmit(eventType string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitErr[eventType] = err
}

func (f *fakeTransport) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeTransport) releases() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fakeTransport) payloads(eventType string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.emits {
		if e.Type == eventType {
			out = append(out, e.Payload)
		}
	}
	return out
}

// deliver runs the registered handlers synchronously, like the read goroutine would.
func (f *fakeTransport) deliver(t *testing.T, eventType string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := rtv1.Envelope{V: rtv1.Version, Type: eventType, TS: time.Now().UTC(), Payload: raw}

	f.mu.Lock()
	fns := make([]func(rtv1.Envelope), 0, len(f.handlers[eventType]))
	for _, fn := range f.handlers[eventType] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(env)
	}
}

func connectorFor(tr *fakeTransport) Connector {
	return ConnectorFunc(func(context.Context) (Lease, error) { return tr, nil })
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func wireMsg(id string, sender apiv1.User, text string, at time.Time) apiv1.ChatMessage {
	at = at.UTC()
	return apiv1.ChatMessage{ID: id, Sender: sender, Text: text, CreatedAt: &at}
}

var (
	alice = apiv1.User{ID: "u-alice", FirstName: "Alice", LastName: "Lovelace", PhotoURL: "https://img/alice.png"}
	bob   = apiv1.User{ID: "u-bob", FirstName: "Bob", LastName: "Builder"}
	carol = apiv1.User{ID: "u-carol", FirstName: "Carol"}
)

func newTestConversation(t *testing.T, api *fakeAPI, tr *fakeTransport) *Conversation {
	t.Helper()

	c, err := NewConversation(Config{
		LocalUser:     LocalUserFromWire(alice),
		CounterpartID: bob.ID,
		API:           api,
		Connector:     connectorFor(tr),
		AckTimeout:    -1,
	})
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}
