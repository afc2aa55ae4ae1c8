package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	chatmodel "github.com/zhouzirui/webchat/backend/internal/model/chat"
	"github.com/zhouzirui/webchat/backend/internal/service/endpoint"
)

type fakeResolver struct {
	result endpoint.Result
	err    error
}

func (f *fakeResolver) Resolve(_ context.Context, rawURL, _ string) (endpoint.Result, error) {
	if f.err != nil {
		return endpoint.Result{}, f.err
	}
	if f.result.CanonicalURL == "" {
		return endpoint.Result{CanonicalURL: rawURL}, nil
	}
	return f.result, nil
}

type streamCall struct {
	model  string
	input  []*schema.Message
	writer *schema.StreamWriter[*schema.Message]
}

type fakeChatModel struct {
	mu        sync.Mutex
	calls     []streamCall
	streamErr error
	opened    chan streamCall
}

func newFakeChatModel() *fakeChatModel {
	return &fakeChatModel{opened: make(chan streamCall, 8)}
}

func (f *fakeChatModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	options := model.GetCommonOptions(&model.Options{}, opts...)
	modelName := ""
	if options.Model != nil {
		modelName = *options.Model
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		f.calls = append(f.calls, streamCall{model: modelName, input: input})
		return nil, f.streamErr
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	call := streamCall{model: modelName, input: input, writer: writer}
	f.calls = append(f.calls, call)
	f.opened <- call
	return reader, nil
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChatModel) next(t *testing.T) streamCall {
	t.Helper()
	select {
	case call := <-f.opened:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to open")
		return streamCall{}
	}
}

type fakeTransport struct {
	models    []chatmodel.ModelInfo
	chatModel *fakeChatModel
}

func (f *fakeTransport) ListModels(context.Context, string, string) []chatmodel.ModelInfo {
	return append([]chatmodel.ModelInfo{}, f.models...)
}

func (f *fakeTransport) NewChatModel(string, string) model.BaseChatModel {
	return f.chatModel
}

type recorder struct {
	mu        sync.Mutex
	snapshots []chatmodel.Snapshot
	notices   []chatmodel.Notice
}

func (r *recorder) Render(snapshot chatmodel.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
}

func (r *recorder) Notify(notice chatmodel.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice)
}

func (r *recorder) noticeLevels() []chatmodel.NoticeLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	levels := make([]chatmodel.NoticeLevel, 0, len(r.notices))
	for _, n := range r.notices {
		levels = append(levels, n.Level)
	}
	return levels
}

// contentsOf returns the distinct successive contents of the message with id.
func (r *recorder) contentsOf(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var contents []string
	for _, snapshot := range r.snapshots {
		for _, msg := range snapshot.Messages {
			if msg.ID != id {
				continue
			}
			if len(contents) == 0 || contents[len(contents)-1] != msg.Content {
				contents = append(contents, msg.Content)
			}
		}
	}
	return contents
}

func (r *recorder) maxStreaming() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	max := 0
	for _, snapshot := range r.snapshots {
		count := 0
		for _, msg := range snapshot.Messages {
			if msg.Streaming {
				count++
			}
		}
		if count > max {
			max = count
		}
	}
	return max
}

func hasLevel(levels []chatmodel.NoticeLevel, want chatmodel.NoticeLevel) bool {
	for _, level := range levels {
		if level == want {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}
