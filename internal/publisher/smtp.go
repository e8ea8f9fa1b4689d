package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"

	"blog_migrator/internal/models"
)

// SMTPSender отправляет письма через net/smtp. SendMail сам переходит на
// STARTTLS, если сервер его объявляет; PLAIN-аутентификация без TLS
// допускается только для localhost.
type SMTPSender struct {
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender() *SMTPSender {
	return &SMTPSender{send: smtp.SendMail}
}

func (s *SMTPSender) Send(ctx context.Context, cfg *models.PublisherConfig, to string, msg []byte) error {
	const op = "smtp send"
	if err := ctx.Err(); err != nil {
		return models.NewError(models.KindTransport, op, err)
	}

	addr := net.JoinHostPort(cfg.SMTPServer, strconv.Itoa(cfg.SMTPPort))
	auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPServer)
	if err := s.send(addr, auth, cfg.SMTPUsername, []string{to}, msg); err != nil {
		return models.NewError(classifySMTP(err), op, fmt.Errorf("send to %s: %w", addr, err))
	}
	return nil
}

// classifySMTP: 421 и 45x означают временный отказ сервера.
func classifySMTP(err error) models.ErrorKind {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && (tpErr.Code == 421 || tpErr.Code/10 == 45) {
		return models.KindRateLimited
	}
	return models.KindTransport
}
