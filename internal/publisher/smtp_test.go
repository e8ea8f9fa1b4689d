package publisher

import (
	"context"
	"net/smtp"
	"net/textproto"
	"testing"

	"blog_migrator/internal/models"

	"github.com/stretchr/testify/require"
)

func TestSMTPSenderSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	s := &SMTPSender{send: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo = addr, from, to
		require.NotNil(t, a)
		return nil
	}}

	cfg := &models.PublisherConfig{SMTPServer: "smtp.example.com", SMTPPort: 587, SMTPUsername: "me@example.com", SMTPPassword: "p"}
	require.NoError(t, s.Send(context.Background(), cfg, "blog.key@blogger.com", []byte("msg")))
	require.Equal(t, "smtp.example.com:587", gotAddr)
	require.Equal(t, "me@example.com", gotFrom)
	require.Equal(t, []string{"blog.key@blogger.com"}, gotTo)
}

func TestSMTPSenderClassifiesErrors(t *testing.T) {
	cfg := &models.PublisherConfig{SMTPServer: "smtp.example.com", SMTPPort: 587}

	s := &SMTPSender{send: func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 451, Msg: "try again later"}
	}}
	err := s.Send(context.Background(), cfg, "x", nil)
	require.Equal(t, models.KindRateLimited, models.KindOf(err))

	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 535, Msg: "bad credentials"}
	}
	err = s.Send(context.Background(), cfg, "x", nil)
	require.Equal(t, models.KindTransport, models.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Send(ctx, cfg, "x", nil)
	require.Equal(t, models.KindTransport, models.KindOf(err))
}
