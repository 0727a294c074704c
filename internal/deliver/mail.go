package deliver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "printcal/internal/log"
	"printcal/internal/render"
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// MailOptions configures a MailDeliverer.
type MailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// To is the printer mailbox.
	To      string
	Subject string

	// Send defaults to smtp.SendMail.
	Send SendFunc
	// Now defaults to time.Now; used for the Date header.
	Now func() time.Time
}

// MailDeliverer mails the artifact as an attachment, for printers with a
// print-by-email address.
type MailDeliverer struct {
	opts MailOptions
}

// NewMailDeliverer returns a MailDeliverer with defaults filled in.
func NewMailDeliverer(opts MailOptions) *MailDeliverer {
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	if opts.Send == nil {
		opts.Send = smtp.SendMail
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MailDeliverer{opts: opts}
}

// Destination implements Deliverer.
func (m *MailDeliverer) Destination(_ render.Artifact) string {
	return "mailto:" + m.opts.To
}

// Deliver implements Deliverer. net/smtp has no context support, so ctx is
// only checked before the conversation starts.
func (m *MailDeliverer) Deliver(ctx context.Context, art render.Artifact) error {
	if m.opts.Host == "" || m.opts.To == "" {
		return errors.New("mail: host and recipient are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := m.Message(art)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.opts.Username != "" {
		auth = smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
	}
	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))

	if err := m.opts.Send(addr, auth, m.opts.From, []string{m.opts.To}, msg); err != nil {
		return fmt.Errorf("mail: send via %s: %w", addr, err)
	}
	appLog.Info("agenda mailed", "to", m.opts.To, "smtp", addr, "bytes", len(art.Data))
	return nil
}

// Message builds the multipart/mixed message: a short text body followed by
// the base64-encoded artifact.
func (m *MailDeliverer) Message(art render.Artifact) ([]byte, error) {
	subject := m.opts.Subject
	if subject == "" {
		subject = strings.TrimSuffix(art.Name, path.Ext(art.Name))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(text, "Agenda attached: %s\r\n", art.Name)

	contentType := art.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "application/octet-stream", map[string]string{}
	}
	params["name"] = art.Name

	attachment, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(mediaType, params)},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": art.Name})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64Lines(attachment, art.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", m.opts.From)
	header("To", m.opts.To)
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", m.opts.Now().Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+messageIDDomain(m.opts.From)+">")
	header("MIME-Version", "1.0")
	header("Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mw.Boundary()}))
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}

// writeBase64Lines writes data as base64 wrapped at 76 characters.
func writeBase64Lines(w io.Writer, data []byte) error {
	const lineLen = 76
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 0 {
		n := min(lineLen, len(enc))
		if _, err := w.Write([]byte(enc[:n] + "\r\n")); err != nil {
			return err
		}
		enc = enc[n:]
	}
	return nil
}

func messageIDDomain(from string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return strings.Trim(from[i+1:], "> ")
	}
	return "printcal.local"
}
