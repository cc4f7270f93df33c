// Command chat is a line-oriented terminal client for the chat server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/chat"
	"github.com/saurabhrjk/admin-connect-chat/internal/client"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/events"
	"github.com/saurabhrjk/admin-connect-chat/internal/logging"
)

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "admin-connect-chat", "session.json")
}

func main() {
	server := pflag.StringP("server", "s", "http://localhost:8000", "chat server base URL")
	sessionFile := pflag.String("session-file", defaultSessionFile(), "where the login is remembered")
	logLevel := pflag.String("log-level", "warn", "log level")
	pflag.Parse()

	log, err := logging.New("production", *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(client.Config{BaseURL: *server}, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	t := &terminal{
		in:          bufio.NewScanner(os.Stdin),
		out:         os.Stdout,
		api:         c,
		sessionFile: *sessionFile,
		log:         log,
	}
	if err := t.run(ctx); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type terminal struct {
	in          *bufio.Scanner
	out         io.Writer
	api         *client.Client
	sessionFile string
	log         *zap.Logger

	session *chat.Session
}

func (t *terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

// readLine prompts and returns the next input line.
func (t *terminal) readLine(prompt string) (string, error) {
	t.printf("%s", prompt)
	if !t.in.Scan() {
		if err := t.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return t.in.Text(), nil
}

func (t *terminal) run(ctx context.Context) error {
	me, err := t.signIn(ctx)
	if err != nil {
		return err
	}
	t.printf("Signed in as %s%s.\n", me.Name, adminSuffix(me))

	t.session = chat.New(me, t.api, chat.WithLogger(t.log))
	defer t.session.Close()

	stopFeed, err := t.api.Subscribe(ctx, t.onEvent, func() {
		if err := t.session.Load(ctx); err != nil {
			t.printf("! reload failed: %v\n", err)
		}
	})
	if err != nil {
		t.printf("! realtime updates unavailable: %v\n", err)
	} else {
		defer stopFeed()
	}

	if err := t.session.Load(ctx); err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	t.showContacts()
	t.showConversation()
	t.printf("Type /help for commands.\n")

	for {
		line, err := t.readLine(t.prompt())
		if err != nil {
			return err
		}
		quit, err := t.handle(ctx, line)
		if err != nil {
			t.printf("! %s\n", describe(err))
		}
		if quit {
			return nil
		}
	}
}

func (t *terminal) onEvent(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.session.Apply(ctx, e); err != nil {
		t.log.Warn("apply event", zap.String("type", string(e.Type)), zap.Error(err))
	}

	me := t.session.Me()
	switch e.Type {
	case events.MessageCreated:
		if e.Message == nil || e.Message.SenderID == me.ID {
			return
		}
		t.printf("\n%s\n", t.formatMessage(*e.Message))
	case events.Typing:
		if e.IsTyping {
			t.printf("\n%s is typing...\n", t.nameOf(e.FromID))
		}
	}
}

func (t *terminal) prompt() string {
	c, ok := t.session.Selected()
	if !ok {
		return "> "
	}
	return fmt.Sprintf("[%s] > ", c.Name)
}

func (t *terminal) nameOf(id string) string {
	if id == t.session.Me().ID {
		return "you"
	}
	for _, c := range t.session.Contacts() {
		if c.ID == id {
			return c.Name
		}
	}
	return id
}

func (t *terminal) formatMessage(m domain.Message) string {
	receipt := ""
	if m.SenderID == t.session.Me().ID && m.IsRead {
		receipt = " (read)"
	}
	body := m.Content
	if m.Type != domain.MessageText && m.FileURL != nil {
		body = fmt.Sprintf("%s [%s: %s]", m.Content, m.Type, *m.FileURL)
	}
	return fmt.Sprintf("%s %s: %s%s", m.Timestamp.Local().Format("15:04"), t.nameOf(m.SenderID), body, receipt)
}

func (t *terminal) showContacts() {
	contacts := t.session.Contacts()
	if len(contacts) == 0 {
		t.printf("No contacts yet.\n")
		return
	}
	selected, _ := t.session.Selected()
	for i, c := range contacts {
		marker := " "
		if c.ID == selected.ID {
			marker = "*"
		}
		line := fmt.Sprintf("%s %d. %s", marker, i+1, c.Name)
		if c.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		if c.IsTyping {
			line += " typing..."
		} else if c.LastMessage != nil {
			line += " - " + *c.LastMessage
		}
		t.printf("%s\n", line)
	}
}

func (t *terminal) showConversation() {
	for _, msgs := range t.session.Visible() {
		for _, m := range msgs {
			t.printf("%s\n", t.formatMessage(m))
		}
	}
}

func adminSuffix(u *domain.User) string {
	if u.IsAdmin {
		return " (admin)"
	}
	return ""
}

// describe renders an error as a user-facing notification.
func describe(err error) string {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, domain.ErrInvalidCredentials):
		return domain.ErrInvalidCredentials.Error()
	case errors.Is(err, domain.ErrDuplicateAccount):
		return domain.ErrDuplicateAccount.Error()
	case errors.Is(err, domain.ErrAccountNotFound):
		return domain.ErrAccountNotFound.Error()
	case errors.Is(err, domain.ErrSecurityAnswerMismatch):
		return domain.ErrSecurityAnswerMismatch.Error()
	case errors.Is(err, domain.ErrForbidden):
		return "you can only message your contacts"
	case errors.Is(err, domain.ErrUnauthorized):
		return "your session has expired, please sign in again"
	case errors.Is(err, domain.ErrBackend):
		return "the server is unreachable, try again"
	}
	return err.Error()
}
