package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/webchat/backend/internal/model/chat"
)

var (
	noticeStyles = map[chat.NoticeLevel]lipgloss.Style{
		chat.NoticeSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")).Bold(true),
		chat.NoticeInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")),
		chat.NoticeWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true),
		chat.NoticeError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
	}
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
)

// printNotice writes a notice to stderr so stdout carries only the reply.
func printNotice(level chat.NoticeLevel, message string) {
	style, ok := noticeStyles[level]
	if !ok {
		style = noticeStyles[chat.NoticeInfo]
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", style.Render("["+string(level)+"]"), messageStyle.Render(message))
}
