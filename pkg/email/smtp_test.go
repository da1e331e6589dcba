package email

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eutiquio/farm-portal-api/pkg/config"
)

// A relay that accepts the connection but never sends a greeting must not
// hold Send past the configured timeout.
func TestSMTPSenderTimesOutOnSilentRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	sender := NewSMTPSender(config.SMTPConfig{
		Host:      host,
		Port:      port,
		Username:  "portal",
		Password:  "secret",
		FromEmail: "noreply@eutiquiofarm.local",
		Timeout:   200 * time.Millisecond,
	}, nil)

	done := make(chan error, 1)
	go func() {
		done <- sender.Send(context.Background(), Message{To: "ana@example.com", Subject: "Hi", Body: "Hello"})
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after the configured timeout")
	}
}

func TestSMTPSenderSkipsWithoutCredentials(t *testing.T) {
	sender := NewSMTPSender(config.SMTPConfig{Host: "localhost", Port: 2525}, nil)
	require.NoError(t, sender.Send(context.Background(), Message{To: "ana@example.com"}))
}
