package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	log "github.com/sirupsen/logrus"

	"momentumwatch/internal/retry"
	"momentumwatch/pkg/model"
)

// SMTPOptions configures the SMTP sender
type SMTPOptions struct {
	Host        string
	Port        int
	User        string
	Password    string
	From        string
	FromName    string
	ImplicitTLS bool
	Timeout     time.Duration
	Retry       retry.Policy

	// TLSConfig overrides the default client TLS settings
	TLSConfig *tls.Config
}

// SMTPSender sends alerts through an authenticated SMTP relay such as
// Gmail with an app password
type SMTPSender struct {
	opts SMTPOptions
	now  func() time.Time
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(opts SMTPOptions) *SMTPSender {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &SMTPSender{opts: opts, now: time.Now}
}

// Send delivers msg to every recipient in one SMTP transaction. Temporary
// failures are retried under the configured policy; an authentication
// failure returns immediately.
func (s *SMTPSender) Send(ctx context.Context, msg *model.AlertMessage) error {
	if len(msg.Recipients) == 0 {
		return &DeliveryError{Stage: "rcpt", Err: errors.New("no recipients")}
	}

	data, err := BuildMIME(mail.Address{Name: s.opts.FromName, Address: s.opts.From}, msg, s.now())
	if err != nil {
		return &DeliveryError{Stage: "compose", Err: err}
	}

	attempt := 0
	err = retry.Do(ctx, s.opts.Retry, "smtp send", IsTemporary, func(ctx context.Context) error {
		attempt++
		return s.deliver(ctx, msg.Recipients, data)
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"recipients": len(msg.Recipients),
		"attempts":   attempt,
		"bytes":      len(data),
	}).Info("Alert delivered")
	return nil
}

func (s *SMTPSender) addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	if s.opts.TLSConfig != nil {
		return s.opts.TLSConfig
	}
	return &tls.Config{ServerName: s.opts.Host}
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.opts.Timeout}

	var conn net.Conn
	var err error
	if s.opts.ImplicitTLS {
		td := &tls.Dialer{NetDialer: dialer, Config: s.tlsConfig()}
		conn, err = td.DialContext(ctx, "tcp", s.addr())
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.addr())
	}
	if err != nil {
		return nil, &DeliveryError{Stage: "connect", Err: err, Temporary: true}
	}

	deadline := time.Now().Add(s.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, s.opts.Host)
	if err != nil {
		conn.Close()
		return nil, classify("greeting", err)
	}

	if !s.opts.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.tlsConfig()); err != nil {
				client.Close()
				return nil, classify("starttls", err)
			}
		}
	}
	return client, nil
}

// deliver runs one transaction. Every recipient must be accepted before
// DATA is sent, otherwise the transaction is reset and nothing goes out.
func (s *SMTPSender) deliver(ctx context.Context, recipients []string, data []byte) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	auth := smtp.PlainAuth("", s.opts.User, s.opts.Password, s.opts.Host)
	if err := client.Auth(auth); err != nil {
		return classifyAuth(err)
	}

	if err := client.Mail(s.opts.From); err != nil {
		return classify("mail from", err)
	}
	for _, rcpt := range recipients {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			client.Reset()
			return &DeliveryError{Stage: "rcpt", Err: fmt.Errorf("%q: %w", rcpt, err)}
		}
		if err := client.Rcpt(addr.Address); err != nil {
			client.Reset()
			return classify("rcpt "+addr.Address, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(data); err != nil {
		return classify("data", err)
	}
	if err := w.Close(); err != nil {
		return classify("data", err)
	}

	if err := client.Quit(); err != nil {
		// Already accepted; a failed QUIT does not undo the delivery
		log.Debugf("smtp quit: %v", err)
	}
	return nil
}

// classifyAuth separates rejected credentials from connection trouble
// during the AUTH exchange
func classifyAuth(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return &AuthError{Err: err}
		}
		return &DeliveryError{Stage: "auth", Err: err, Temporary: true}
	}
	if isNetworkError(err) {
		return &DeliveryError{Stage: "auth", Err: err, Temporary: true}
	}
	// net/smtp refuses PLAIN on unencrypted remote connections
	return &AuthError{Err: err}
}

func classify(stage string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return &DeliveryError{Stage: stage, Err: err, Temporary: tpErr.Code < 500}
	}
	return &DeliveryError{Stage: stage, Err: err, Temporary: isNetworkError(err)}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// BuildMIME renders msg as a multipart/alternative message with a text
// and an HTML part
func BuildMIME(from mail.Address, msg *model.AlertMessage, date time.Time) ([]byte, error) {
	to := make([]*mail.Address, 0, len(msg.Recipients))
	for _, r := range msg.Recipients {
		addr, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", r, err)
		}
		to = append(to, addr)
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{&from})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if err := writePart(tw, "text/plain", msg.Text); err != nil {
		return nil, err
	}
	if msg.HTML != "" {
		if err := writePart(tw, "text/html", msg.HTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(tw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := tw.CreatePart(ph)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, body); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
