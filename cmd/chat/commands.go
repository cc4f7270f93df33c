package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/client"
	"github.com/saurabhrjk/admin-connect-chat/internal/domain"
	"github.com/saurabhrjk/admin-connect-chat/internal/service"
)

const helpText = `Commands:
  /contacts         list contacts
  /open <n>         open the conversation with contact n
  /attach <path>    send a file to the open conversation
  /typing           tell the open contact you are typing
  /reload           reload contacts and messages
  /logout           sign out and forget this device
  /quit             leave
Any other line is sent as a message to the open conversation.
`

// signIn resumes the remembered session or asks the user to sign in,
// register or recover a password.
func (t *terminal) signIn(ctx context.Context) (*domain.User, error) {
	marker, err := client.LoadMarker(t.sessionFile)
	if err != nil {
		t.log.Warn("ignoring unreadable session file", zap.Error(err))
	}
	if marker != nil {
		u, err := t.api.Resume(ctx, marker)
		if err == nil {
			t.remember(u)
			return u, nil
		}
		if !errors.Is(err, domain.ErrUnauthorized) {
			return nil, fmt.Errorf("resume session: %w", err)
		}
		_ = client.ClearMarker(t.sessionFile)
		t.printf("Your session has expired.\n")
	}

	for {
		choice, err := t.readLine("[l]ogin, [r]egister or [f]orgot password? ")
		if err != nil {
			return nil, err
		}
		var resp *service.TokenResponse
		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "l", "login":
			resp, err = t.login(ctx)
		case "r", "register":
			resp, err = t.register(ctx)
		case "f", "forgot":
			err = t.recoverPassword(ctx)
			if err == nil {
				t.printf("Password updated, you can sign in now.\n")
			}
		default:
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			t.printf("! %s\n", describe(err))
			continue
		}
		if resp != nil {
			t.remember(resp.User)
			return resp.User, nil
		}
	}
}

func (t *terminal) remember(u *domain.User) {
	if err := client.SaveMarker(t.sessionFile, client.Marker{Token: t.api.Token(), User: u}); err != nil {
		t.log.Warn("could not save session", zap.Error(err))
	}
}

func (t *terminal) ask(fields ...string) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		v, err := t.readLine(f + ": ")
		if err != nil {
			return nil, err
		}
		out[i] = strings.TrimSpace(v)
	}
	return out, nil
}

func (t *terminal) login(ctx context.Context) (*service.TokenResponse, error) {
	v, err := t.ask("Email", "Password")
	if err != nil {
		return nil, err
	}
	return t.api.Login(ctx, v[0], v[1])
}

func (t *terminal) register(ctx context.Context) (*service.TokenResponse, error) {
	v, err := t.ask("Name", "Email", "Password", "Confirm password", "Security question", "Security answer")
	if err != nil {
		return nil, err
	}
	return t.api.Register(ctx, service.RegisterInput{
		Name:             v[0],
		Email:            v[1],
		Password:         v[2],
		ConfirmPassword:  v[3],
		SecurityQuestion: v[4],
		SecurityAnswer:   v[5],
	})
}

func (t *terminal) recoverPassword(ctx context.Context) error {
	v, err := t.ask("Email")
	if err != nil {
		return err
	}
	email := v[0]
	question, err := t.api.SecurityQuestion(ctx, email)
	if err != nil {
		return err
	}
	t.printf("Security question: %s\n", question)
	v, err = t.ask("Answer", "New password", "Confirm new password")
	if err != nil {
		return err
	}
	if v[1] != v[2] {
		return domain.Invalid("confirm_password", "passwords do not match")
	}
	return t.api.ResetPassword(ctx, email, v[0], v[1])
}

// handle runs one input line. It reports whether the client should exit.
func (t *terminal) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := t.session.SendMessage(ctx, line, domain.MessageText, nil)
		return false, err
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		t.printf("%s", helpText)
	case "/contacts":
		t.showContacts()
	case "/open":
		n, err := strconv.Atoi(arg)
		contacts := t.session.Contacts()
		if err != nil || n < 1 || n > len(contacts) {
			return false, fmt.Errorf("pick a contact between 1 and %d", len(contacts))
		}
		if err := t.session.SelectContact(ctx, contacts[n-1].ID); err != nil {
			return false, err
		}
		t.showConversation()
	case "/attach":
		return false, t.attach(ctx, arg)
	case "/typing":
		return false, t.session.SetTyping(ctx, true)
	case "/reload":
		if err := t.session.Load(ctx); err != nil {
			return false, err
		}
		t.showContacts()
	case "/logout":
		err := t.api.Logout(ctx)
		if cerr := client.ClearMarker(t.sessionFile); cerr != nil {
			t.log.Warn("could not clear session", zap.Error(cerr))
		}
		t.printf("Signed out.\n")
		return true, err
	case "/quit", "/exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

func (t *terminal) attach(ctx context.Context, path string) error {
	if path == "" {
		return domain.Invalid("file", "usage: /attach <path>")
	}
	if _, ok := t.session.Selected(); !ok {
		return domain.Invalid("recipient_id", "no contact selected")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	att, err := t.api.Upload(ctx, filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), f)
	if err != nil {
		return err
	}
	_, err = t.session.SendMessage(ctx, att.Filename, att.Type, &att.FileURL)
	return err
}
