package chat_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	chatmodel "github.com/zhouzirui/webchat/backend/internal/model/chat"
	chat "github.com/zhouzirui/webchat/backend/internal/service/chat"
	"github.com/zhouzirui/webchat/backend/internal/service/endpoint"
)

type harness struct {
	session   *chat.Session
	chatModel *fakeChatModel
	events    *recorder
}

func newHarness(t *testing.T, cfg chatmodel.Config, models []chatmodel.ModelInfo) *harness {
	t.Helper()

	chatModel := newFakeChatModel()
	events := &recorder{}
	session := chat.NewSession(context.Background(), "s1", cfg, chat.Options{
		Resolver:   &fakeResolver{},
		Transport:  &fakeTransport{models: models, chatModel: chatModel},
		Notifier:   events,
		Observer:   events,
		ClearDelay: 20 * time.Millisecond,
	})
	t.Cleanup(session.Close)

	session.Initialize()
	return &harness{session: session, chatModel: chatModel, events: events}
}

func readyHarness(t *testing.T) *harness {
	t.Helper()
	return newHarness(t, chatmodel.Config{OllamaURL: "http://h:1/v1"}, []chatmodel.ModelInfo{{ID: "m1", Name: "M1"}, {ID: "m2", Name: "M2"}})
}

func (h *harness) idle() bool {
	return !h.session.Snapshot().Sending
}

func assistantID(t *testing.T, snapshot chatmodel.Snapshot) string {
	t.Helper()
	msg, ok := snapshot.StreamingMessage()
	if !ok {
		t.Fatal("expected a streaming assistant message")
	}
	return msg.ID
}

func TestInitializeSelectsFirstModel(t *testing.T) {
	h := readyHarness(t)

	snapshot := h.session.Snapshot()
	if snapshot.State != chatmodel.StateReady || snapshot.Loading {
		t.Fatalf("expected ready session, got state=%s loading=%v", snapshot.State, snapshot.Loading)
	}
	if snapshot.Model != "m1" {
		t.Fatalf("expected first catalog model, got %q", snapshot.Model)
	}
	if len(snapshot.Models) != 2 {
		t.Fatalf("unexpected catalog: %+v", snapshot.Models)
	}
}

func TestInitializePrefersConfiguredModel(t *testing.T) {
	h := newHarness(t, chatmodel.Config{OllamaURL: "http://h:1", DefaultModel: "custom"}, []chatmodel.ModelInfo{{ID: "m1", Name: "M1"}})

	if got := h.session.Snapshot().Model; got != "custom" {
		t.Fatalf("expected configured default model, got %q", got)
	}
}

func TestInitializeWithEmptyCatalogHasNoModel(t *testing.T) {
	h := newHarness(t, chatmodel.Config{OllamaURL: "http://h:1"}, nil)

	snapshot := h.session.Snapshot()
	if snapshot.State != chatmodel.StateReady || snapshot.Model != "" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if h.session.Send("hello") {
		t.Fatal("send without a model must be rejected")
	}
	if !hasLevel(h.events.noticeLevels(), chatmodel.NoticeWarning) {
		t.Fatal("expected a warning notice for the empty catalog")
	}
}

func TestInitializeResolverFailure(t *testing.T) {
	events := &recorder{}
	chatModel := newFakeChatModel()
	session := chat.NewSession(context.Background(), "s1", chatmodel.Config{OllamaURL: "http://down:1"}, chat.Options{
		Resolver:  &fakeResolver{err: endpoint.ErrUnreachable},
		Transport: &fakeTransport{models: []chatmodel.ModelInfo{{ID: "m1"}}, chatModel: chatModel},
		Notifier:  events,
		Observer:  events,
	})
	defer session.Close()

	session.Initialize()

	snapshot := session.Snapshot()
	if snapshot.State != chatmodel.StateReady || snapshot.Loading {
		t.Fatalf("expected terminal ready state, got %s", snapshot.State)
	}
	if snapshot.Error == "" || snapshot.Model != "" || snapshot.CanonicalURL != "" {
		t.Fatalf("unexpected snapshot after failure: %+v", snapshot)
	}
	if session.Send("hello") {
		t.Fatal("send must fail fast when the endpoint is unreachable")
	}
	if chatModel.callCount() != 0 {
		t.Fatal("no stream may be opened after resolver failure")
	}
	if !hasLevel(events.noticeLevels(), chatmodel.NoticeError) {
		t.Fatal("expected an error notice")
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	h := readyHarness(t)
	before := h.session.Snapshot().Revision

	h.session.Initialize()

	if after := h.session.Snapshot().Revision; after != before {
		t.Fatalf("second Initialize must be a no-op, revision %d -> %d", before, after)
	}
}

func TestCanonicalURLCallback(t *testing.T) {
	notified := make(chan string, 1)
	events := &recorder{}
	session := chat.NewSession(context.Background(), "s1", chatmodel.Config{OllamaURL: "http://h:1"}, chat.Options{
		Resolver:  &fakeResolver{result: endpoint.Result{CanonicalURL: "http://h:1/v1", Normalized: true}},
		Transport: &fakeTransport{models: []chatmodel.ModelInfo{{ID: "m1"}}, chatModel: newFakeChatModel()},
		Notifier:  events,
		Observer:  events,
		OnCanonicalURL: func(canonicalURL string) {
			notified <- canonicalURL
		},
	})
	defer session.Close()

	session.Initialize()

	select {
	case got := <-notified:
		if got != "http://h:1/v1" {
			t.Fatalf("unexpected canonical url: %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canonical url callback not invoked")
	}
	if session.Snapshot().CanonicalURL != "http://h:1/v1" {
		t.Fatalf("unexpected canonical url in snapshot: %+v", session.Snapshot())
	}
	if !hasLevel(events.noticeLevels(), chatmodel.NoticeSuccess) {
		t.Fatal("expected a success notice for the normalized url")
	}
}

func TestSendStreamsChunksInOrder(t *testing.T) {
	h := readyHarness(t)

	if !h.session.Send("hi") {
		t.Fatal("expected send to start")
	}

	snapshot := h.session.Snapshot()
	if snapshot.State != chatmodel.StateSending || !snapshot.Sending {
		t.Fatalf("expected sending state, got %+v", snapshot)
	}
	if len(snapshot.Messages) != 2 || snapshot.Messages[0].Role != chatmodel.RoleUser || snapshot.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages after send: %+v", snapshot.Messages)
	}
	id := assistantID(t, snapshot)

	call := h.chatModel.next(t)
	if call.model != "m1" {
		t.Fatalf("expected request for m1, got %q", call.model)
	}
	if len(call.input) != 1 || call.input[0].Role != schema.User || call.input[0].Content != "hi" {
		t.Fatalf("unexpected request history: %+v", call.input)
	}

	for _, chunk := range []string{"Hel", "lo", " world"} {
		call.writer.Send(schema.AssistantMessage(chunk, nil), nil)
	}
	call.writer.Close()

	waitFor(t, "stream completion", h.idle)

	final := h.session.Snapshot()
	if final.State != chatmodel.StateReady {
		t.Fatalf("expected ready state, got %s", final.State)
	}
	last := final.Messages[len(final.Messages)-1]
	if last.ID != id || last.Content != "Hello world" || last.Streaming {
		t.Fatalf("unexpected assistant message: %+v", last)
	}

	want := []string{"", "Hel", "Hello", "Hello world"}
	got := h.events.contentsOf(id)
	if len(got) != len(want) {
		t.Fatalf("unexpected intermediate contents: %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected intermediate contents: %q", got)
		}
	}
}

func TestSendIncludesPriorConversation(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("first")
	call := h.chatModel.next(t)
	call.writer.Send(schema.AssistantMessage("answer", nil), nil)
	call.writer.Close()
	waitFor(t, "first exchange", h.idle)

	h.session.Send("second")
	call = h.chatModel.next(t)
	defer call.writer.Close()

	roles := []schema.RoleType{schema.User, schema.Assistant, schema.User}
	contents := []string{"first", "answer", "second"}
	if len(call.input) != len(roles) {
		t.Fatalf("unexpected history length: %+v", call.input)
	}
	for i := range roles {
		if call.input[i].Role != roles[i] || call.input[i].Content != contents[i] {
			t.Fatalf("unexpected history entry %d: %+v", i, call.input[i])
		}
	}
}

func TestSendRejectsReentrantCalls(t *testing.T) {
	h := readyHarness(t)

	if !h.session.Send("one") {
		t.Fatal("expected first send to start")
	}
	if h.session.Send("two") {
		t.Fatal("expected second send to be rejected")
	}

	call := h.chatModel.next(t)
	call.writer.Send(schema.AssistantMessage("ok", nil), nil)
	call.writer.Close()
	waitFor(t, "stream completion", h.idle)

	if n := h.chatModel.callCount(); n != 1 {
		t.Fatalf("expected one outbound stream, got %d", n)
	}
	if n := len(h.session.Snapshot().Messages); n != 2 {
		t.Fatalf("rejected send must not append messages, got %d", n)
	}
	if max := h.events.maxStreaming(); max != 1 {
		t.Fatalf("expected at most one streaming message, got %d", max)
	}
}

func TestSendRejectsBlankText(t *testing.T) {
	h := readyHarness(t)

	if h.session.Send("   ") {
		t.Fatal("blank text must be rejected")
	}
	if h.chatModel.callCount() != 0 {
		t.Fatal("no stream may be opened for blank text")
	}
}

func TestSendInputClearsBuffer(t *testing.T) {
	h := readyHarness(t)

	h.session.SetInput("from buffer")
	if !h.session.SendInput() {
		t.Fatal("expected send from input buffer")
	}

	snapshot := h.session.Snapshot()
	if snapshot.Input != "" {
		t.Fatalf("expected input buffer to be emptied, got %q", snapshot.Input)
	}
	if snapshot.Messages[0].Content != "from buffer" {
		t.Fatalf("unexpected user message: %+v", snapshot.Messages[0])
	}

	call := h.chatModel.next(t)
	call.writer.Close()
	waitFor(t, "stream completion", h.idle)
}

func TestStreamFailureRemovesPlaceholder(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("hi")
	id := assistantID(t, h.session.Snapshot())
	call := h.chatModel.next(t)

	call.writer.Send(schema.AssistantMessage("Hel", nil), nil)
	waitFor(t, "first chunk", func() bool {
		msgs := h.session.Snapshot().Messages
		return len(msgs) == 2 && msgs[1].Content == "Hel"
	})

	call.writer.Send(nil, errors.New("connection reset"))
	call.writer.Close()
	waitFor(t, "stream failure", h.idle)

	snapshot := h.session.Snapshot()
	if len(snapshot.Messages) != 1 {
		t.Fatalf("expected only the user message, got %+v", snapshot.Messages)
	}
	if snapshot.Messages[0].Role != chatmodel.RoleUser || snapshot.Messages[0].Content != "hi" {
		t.Fatalf("user message must be preserved, got %+v", snapshot.Messages[0])
	}
	for _, msg := range snapshot.Messages {
		if msg.ID == id {
			t.Fatal("placeholder must be removed")
		}
	}
	if snapshot.State != chatmodel.StateReady {
		t.Fatalf("expected ready state, got %s", snapshot.State)
	}
	if !hasLevel(h.events.noticeLevels(), chatmodel.NoticeError) {
		t.Fatal("expected an error notice")
	}
}

func TestStreamOpenFailureRemovesPlaceholder(t *testing.T) {
	h := readyHarness(t)
	h.chatModel.streamErr = errors.New("dial tcp: connection refused")

	h.session.Send("hi")
	waitFor(t, "send failure", h.idle)

	snapshot := h.session.Snapshot()
	if len(snapshot.Messages) != 1 || snapshot.Messages[0].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", snapshot.Messages)
	}
}

func TestClearWhenIdleIsImmediate(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("hi")
	call := h.chatModel.next(t)
	call.writer.Close()
	waitFor(t, "stream completion", h.idle)

	h.session.Clear()

	if n := len(h.session.Snapshot().Messages); n != 0 {
		t.Fatalf("expected empty conversation, got %d messages", n)
	}
	if !hasLevel(h.events.noticeLevels(), chatmodel.NoticeSuccess) {
		t.Fatal("expected a confirmation notice")
	}
}

func TestClearDuringStreamingIgnoresLateChunks(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("hi")
	call := h.chatModel.next(t)
	call.writer.Send(schema.AssistantMessage("Hel", nil), nil)
	waitFor(t, "first chunk", func() bool {
		msgs := h.session.Snapshot().Messages
		return len(msgs) == 2 && msgs[1].Content == "Hel"
	})

	h.session.Clear()

	snapshot := h.session.Snapshot()
	if _, streaming := snapshot.StreamingMessage(); streaming {
		t.Fatal("clear must stop marking the message as streaming")
	}

	call.writer.Send(schema.AssistantMessage("lo", nil), nil)
	time.Sleep(10 * time.Millisecond)
	if msgs := h.session.Snapshot().Messages; len(msgs) == 2 && msgs[1].Content != "Hel" {
		t.Fatalf("late chunk must be ignored, got %q", msgs[1].Content)
	}

	waitFor(t, "deferred clear", func() bool {
		return len(h.session.Snapshot().Messages) == 0
	})

	call.writer.Send(schema.AssistantMessage(" world", nil), nil)
	call.writer.Close()
	waitFor(t, "stream completion", h.idle)

	final := h.session.Snapshot()
	if len(final.Messages) != 0 || final.State != chatmodel.StateReady {
		t.Fatalf("late completion must not touch state: %+v", final)
	}
}

func TestClearDuringStreamingThenFailure(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("hi")
	call := h.chatModel.next(t)
	h.session.Clear()
	waitFor(t, "deferred clear", func() bool {
		return len(h.session.Snapshot().Messages) == 0
	})

	call.writer.Send(nil, errors.New("broken pipe"))
	call.writer.Close()
	waitFor(t, "stream failure", h.idle)

	if hasLevel(h.events.noticeLevels(), chatmodel.NoticeError) {
		t.Fatal("stale failure must not raise an error notice")
	}
}

func TestSetModelClearsConversation(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("hi")
	call := h.chatModel.next(t)
	call.writer.Send(schema.AssistantMessage("hello", nil), nil)
	call.writer.Close()
	waitFor(t, "stream completion", h.idle)

	h.session.SetModel("m2")

	snapshot := h.session.Snapshot()
	if snapshot.Model != "m2" {
		t.Fatalf("expected m2, got %q", snapshot.Model)
	}
	if len(snapshot.Messages) != 0 {
		t.Fatalf("expected model switch to clear the conversation, got %+v", snapshot.Messages)
	}
}

func TestSetModelDuringStreamingDefersClear(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("hi")
	call := h.chatModel.next(t)

	h.session.SetModel("m2")
	waitFor(t, "deferred clear", func() bool {
		return len(h.session.Snapshot().Messages) == 0
	})

	call.writer.Close()
	waitFor(t, "stream completion", h.idle)

	if !h.session.Send("again") {
		t.Fatal("expected send with the new model")
	}
	next := h.chatModel.next(t)
	defer next.writer.Close()
	if next.model != "m2" {
		t.Fatalf("expected request for m2, got %q", next.model)
	}
	if len(next.input) != 1 {
		t.Fatalf("history must not leak across models: %+v", next.input)
	}
}

func TestSetModelSameOrEmptyConversationKeepsMessages(t *testing.T) {
	h := readyHarness(t)

	h.session.SetModel("m2")
	if h.session.Snapshot().Model != "m2" {
		t.Fatal("expected model to change on empty conversation")
	}

	h.session.Send("hi")
	call := h.chatModel.next(t)
	call.writer.Close()
	waitFor(t, "stream completion", h.idle)

	h.session.SetModel("m2")
	if n := len(h.session.Snapshot().Messages); n != 2 {
		t.Fatalf("selecting the current model must not clear, got %d messages", n)
	}
}

func TestSetModelOutsideCatalogIsSentAsIs(t *testing.T) {
	h := readyHarness(t)

	h.session.SetModel("not-listed")
	h.session.Send("hi")
	call := h.chatModel.next(t)
	defer call.writer.Close()

	if call.model != "not-listed" {
		t.Fatalf("expected unlisted model to be used, got %q", call.model)
	}
}

func TestCloseDetachesStream(t *testing.T) {
	h := readyHarness(t)

	h.session.Send("hi")
	call := h.chatModel.next(t)
	before := h.session.Snapshot()

	h.session.Close()
	call.writer.Send(schema.AssistantMessage("late", nil), nil)
	call.writer.Close()
	time.Sleep(20 * time.Millisecond)

	after := h.session.Snapshot()
	if after.Revision != before.Revision {
		t.Fatalf("closed session must not change, revision %d -> %d", before.Revision, after.Revision)
	}
	if h.session.Send("more") {
		t.Fatal("closed session must reject sends")
	}
}
