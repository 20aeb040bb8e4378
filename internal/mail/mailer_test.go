package mail

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anwado/backend/internal/config"
)

func TestNewWithoutConfigIsNoop(t *testing.T) {
	mailer := New(config.SMTPConfig{})

	assert.IsType(t, NoopMailer{}, mailer)
	assert.NoError(t, mailer.Send(context.Background(), "max@example.de", "Betreff", "Text"))
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage("noreply@anwado.de", "max@example.de", "Ihre Fallzusammenfassung", "Zeile eins.")

	assert.True(t, strings.HasPrefix(msg, "From: noreply@anwado.de\r\n"))
	assert.Contains(t, msg, "To: max@example.de\r\n")
	assert.Contains(t, msg, "Subject: Ihre Fallzusammenfassung\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")
	assert.True(t, strings.HasSuffix(msg, "\r\n\r\nZeile eins.\r\n"), "headers and body separated by a blank line")
}

// ============================================================================
// SMTP SESSION
// ============================================================================

type smtpSession struct {
	from string
	rcpt string
	data string
}

// runFakeSMTP answers exactly one scripted plaintext session (no STARTTLS,
// no AUTH) and reports what the client submitted.
func runFakeSMTP(t *testing.T) (config.SMTPConfig, <-chan smtpSession) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	sessions := make(chan smtpSession, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var sess smtpSession
		r := bufio.NewReader(conn)
		write := func(s string) { fmt.Fprintf(conn, "%s\r\n", s) }

		write("220 fake ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "EHLO"), strings.HasPrefix(line, "HELO"):
				write("250 fake")
			case strings.HasPrefix(line, "MAIL FROM:"):
				sess.from = line
				write("250 OK")
			case strings.HasPrefix(line, "RCPT TO:"):
				sess.rcpt = line
				write("250 OK")
			case line == "DATA":
				write("354 send the message")
				var body strings.Builder
				for {
					dataLine, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if strings.TrimRight(dataLine, "\r\n") == "." {
						break
					}
					body.WriteString(dataLine)
				}
				sess.data = body.String()
				write("250 queued")
			case line == "QUIT":
				write("221 bye")
				sessions <- sess
				return
			default:
				write("250 OK")
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return config.SMTPConfig{
		Host:    host,
		Port:    port,
		From:    "noreply@anwado.de",
		Timeout: 5 * time.Second,
	}, sessions
}

func TestSMTPMailerSendsMessage(t *testing.T) {
	cfg, sessions := runFakeSMTP(t)
	mailer := New(cfg)
	require.IsType(t, &SMTPMailer{}, mailer)

	err := mailer.Send(context.Background(), "max@example.de",
		"Ihre Fallzusammenfassung ist fertig", "Referenz SUM-20250210-AB12C.")
	require.NoError(t, err)

	select {
	case sess := <-sessions:
		assert.Contains(t, sess.from, "noreply@anwado.de")
		assert.Contains(t, sess.rcpt, "max@example.de")
		assert.Contains(t, sess.data, "Subject: Ihre Fallzusammenfassung ist fertig")
		assert.Contains(t, sess.data, "Referenz SUM-20250210-AB12C.")
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session never completed")
	}
}

func TestSMTPMailerDialFailure(t *testing.T) {
	// A closed listener port: the dial must fail fast, not hang.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()

	mailer := New(config.SMTPConfig{
		Host: host, Port: port, From: "noreply@anwado.de", Timeout: time.Second,
	})
	err = mailer.Send(context.Background(), "max@example.de", "Betreff", "Text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to dial smtp server")
}
