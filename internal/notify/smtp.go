package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers messages over SMTP. STARTTLS is used when the server
// offers it.
type SMTPSender struct {
	cfg  SMTPConfig
	now  func() time.Time
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := &net.Dialer{}
	return &SMTPSender{cfg: cfg, now: time.Now, dial: d.DialContext}, nil
}

// Deliver sends m.
func (s *SMTPSender) Deliver(ctx context.Context, m Message) error {
	if m.To == "" {
		return ErrNoRecipient
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return errors.Wrap(err, "handshake")
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return errors.Wrap(err, "starttls")
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return classify(errors.Wrap(err, "auth"))
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return classify(errors.Wrap(err, "mail from"))
	}
	if err := c.Rcpt(m.To); err != nil {
		return classify(errors.Wrap(err, "rcpt to"))
	}
	w, err := c.Data()
	if err != nil {
		return classify(errors.Wrap(err, "data"))
	}
	if _, err := w.Write(s.compose(m)); err != nil {
		return errors.Wrap(err, "write body")
	}
	if err := w.Close(); err != nil {
		return classify(errors.Wrap(err, "end data"))
	}
	if err := c.Quit(); err != nil {
		zctx.From(ctx).Debug("SMTP quit failed", zap.Error(err))
	}
	return nil
}

func (s *SMTPSender) compose(m Message) []byte {
	var b bytes.Buffer
	b.WriteString("From: " + s.cfg.From + "\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	b.WriteString("Date: " + s.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	return b.Bytes()
}

// classify marks 5xx replies as permanent rejections.
func classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return errors.Wrapf(ErrRejected, "%d %s", tpErr.Code, tpErr.Msg)
	}
	return err
}
