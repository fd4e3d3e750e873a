package notify

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// smtpProfile is one resolved SMTP endpoint.
type smtpProfile struct {
	Host     string
	Port     int
	Implicit bool // implicit TLS (465) vs STARTTLS (587/25)
}

// smtpByDomain maps sender-address domains to their provider's SMTP
// endpoint. Mainland providers run implicit TLS on 465; the western ones
// use STARTTLS on 587.
var smtpByDomain = map[string]smtpProfile{
	"qq.com":      {"smtp.qq.com", 465, true},
	"foxmail.com": {"smtp.qq.com", 465, true},
	"163.com":     {"smtp.163.com", 465, true},
	"126.com":     {"smtp.126.com", 465, true},
	"sina.com":    {"smtp.sina.com", 465, true},
	"sohu.com":    {"smtp.sohu.com", 465, true},
	"aliyun.com":  {"smtp.aliyun.com", 465, true},
	"139.com":     {"smtp.139.com", 465, true},
	"gmail.com":   {"smtp.gmail.com", 587, false},
	"outlook.com": {"smtp.office365.com", 587, false},
	"hotmail.com": {"smtp.office365.com", 587, false},
	"live.com":    {"smtp.office365.com", 587, false},
}

// detectSMTP resolves the SMTP endpoint for a sender address. Unknown
// domains get the conventional smtp.<domain>:465 guess.
func detectSMTP(sender string) (smtpProfile, error) {
	at := strings.LastIndex(sender, "@")
	if at < 0 || at == len(sender)-1 {
		return smtpProfile{}, fmt.Errorf("notify: invalid sender address %q", sender)
	}
	domain := strings.ToLower(sender[at+1:])
	if p, ok := smtpByDomain[domain]; ok {
		return p, nil
	}
	return smtpProfile{Host: "smtp." + domain, Port: 465, Implicit: true}, nil
}

// EmailChannel sends the report as an HTML mail. Host/Port/Implicit are
// autodetected from the sender address when left zero.
type EmailChannel struct {
	Sender   string
	Password string
	To       []string
	Subject  string

	Host     string
	Port     int
	Implicit bool
}

func (c *EmailChannel) Name() string { return "email" }

// Budget is generous: mail has no hard chunk limit worth honoring.
func (c *EmailChannel) Budget() int { return 1 << 20 }

func (c *EmailChannel) Send(ctx context.Context, text string) error {
	profile := smtpProfile{Host: c.Host, Port: c.Port, Implicit: c.Implicit}
	if profile.Host == "" {
		p, err := detectSMTP(c.Sender)
		if err != nil {
			return err
		}
		profile = p
	}

	subject := c.Subject
	if subject == "" {
		subject = "Stock analysis report " + time.Now().Format("2006-01-02")
	}
	msg := buildMIME(c.Sender, c.To, subject, ToHTML(text))
	auth := smtp.PlainAuth("", c.Sender, c.Password, profile.Host)
	addr := fmt.Sprintf("%s:%d", profile.Host, profile.Port)

	if profile.Implicit {
		return sendImplicitTLS(ctx, addr, profile.Host, auth, c.Sender, c.To, msg)
	}
	return smtp.SendMail(addr, auth, c.Sender, c.To, msg)
}

// sendImplicitTLS speaks SMTP over a TLS connection from the first byte,
// which net/smtp.SendMail cannot do.
func sendImplicitTLS(ctx context.Context, addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 15 * time.Second}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: smtp dial: %w", err)
	}
	conn := tls.Client(raw, &tls.Config{ServerName: host})
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return fmt.Errorf("notify: smtp tls: %w", err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("notify: smtp auth: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func buildMIME(from string, to []string, subject, html string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: =?UTF-8?B?%s?=\r\n", base64.StdEncoding.EncodeToString([]byte(subject)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString([]byte(html)))
	b.WriteString("\r\n")
	return []byte(b.String())
}
