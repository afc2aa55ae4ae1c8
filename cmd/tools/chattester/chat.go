package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
	"github.com/zhouzirui/webchat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/webchat/backend/internal/service/chat"
	"github.com/zhouzirui/webchat/backend/internal/service/endpoint"
)

var (
	chatModel    string
	systemPrompt string
	replyTimeout time.Duration
)

var chatCmd = &cobra.Command{
	Use:   "chat <url> <text>",
	Short: "Send one message and stream the reply to stdout",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if systemPrompt == "" {
			systemPrompt = cfg.AI.SystemPrompt
		}
		model := chatModel
		if model == "" {
			model = cfg.Session.DefaultModel
		}

		term := newTerminal(cmd.OutOrStdout())
		session := chatService.NewSession(cmd.Context(), "chattester", chat.Config{
			OllamaURL:    args[0],
			APIKey:       apiKey,
			DefaultModel: model,
		}, chatService.Options{
			Resolver:  endpoint.NewResolver(client),
			Transport: client,
			Prompt:    ai.NewPromptBuilder(systemPrompt),
			Notifier:  term,
			Observer:  term,
			OnCanonicalURL: func(canonicalURL string) {
				printNotice(chat.NoticeInfo, "use "+canonicalURL+" next time")
			},
		})
		defer session.Close()

		session.Initialize()
		snapshot := session.Snapshot()
		if snapshot.Error != "" {
			return errors.New(snapshot.Error)
		}
		printNotice(chat.NoticeInfo, fmt.Sprintf("model %s via %s", snapshot.Model, snapshot.CanonicalURL))

		if !session.Send(strings.Join(args[1:], " ")) {
			return errors.New("message was not sent")
		}

		select {
		case <-term.done:
		case <-time.After(replyTimeout):
			return fmt.Errorf("no reply within %s", replyTimeout)
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
		fmt.Fprintln(cmd.OutOrStdout())

		final := session.Snapshot()
		if n := len(final.Messages); n == 0 || final.Messages[n-1].Role != chat.RoleAssistant {
			return errors.New("reply failed")
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model id (default DEFAULT_MODEL, then the first catalog entry)")
	chatCmd.Flags().StringVar(&systemPrompt, "system", "", "system prompt (default SYSTEM_PROMPT)")
	chatCmd.Flags().DurationVar(&replyTimeout, "reply-timeout", 2*time.Minute, "maximum time to wait for the reply")
}

// terminal prints streamed deltas of the assistant message and styled notices.
type terminal struct {
	out io.Writer

	mu      sync.Mutex
	printed map[string]int
	started bool
	done    chan struct{}
	once    sync.Once
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out, printed: make(map[string]int), done: make(chan struct{})}
}

func (t *terminal) Render(snapshot chat.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range snapshot.Messages {
		if msg.Role != chat.RoleAssistant {
			continue
		}
		if n := t.printed[msg.ID]; len(msg.Content) > n {
			fmt.Fprint(t.out, msg.Content[n:])
			t.printed[msg.ID] = len(msg.Content)
		}
	}

	if snapshot.Sending {
		t.started = true
	} else if t.started {
		t.once.Do(func() { close(t.done) })
	}
}

func (t *terminal) Notify(notice chat.Notice) {
	printNotice(notice.Level, notice.Message)
}
