// join_session dials a running backend from the terminal: it requests a
// session, negotiates a connection with silent audio capture, and prints
// every frame the backend sends until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harunnryd/wicara/pkg/client"
	"github.com/harunnryd/wicara/pkg/protocol"
)

func main() {
	baseURL := flag.String("url", "http://localhost:7860", "")
	sessionID := flag.String("session", "", "reuse an existing session id")
	timeout := flag.Duration("timeout", 15*time.Second, "")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sc := client.NewSignalClient(client.SignalConfig{BaseURL: *baseURL})
	sid := *sessionID
	if sid == "" {
		var err error
		sid, err = sc.CreateSession(ctx)
		if err != nil {
			fmt.Println("session error:", err)
			os.Exit(1)
		}
		fmt.Println("session:", sid)
	}
	sc = client.NewSignalClient(client.SignalConfig{BaseURL: *baseURL, SessionID: sid})

	ctl := client.NewController(client.Options{Signal: sc})
	ctl.OnFrame(func(m protocol.Message) {
		switch m.Type {
		case protocol.TypeStatus:
			fmt.Printf("[status] %s %s\n", m.Status, m.Text)
		case protocol.TypeTranscript:
			mark := ""
			if !m.IsFinal() {
				mark = " (partial)"
			}
			fmt.Printf("[%s]%s %s\n", m.Role, mark, m.Text)
		case protocol.TypeLog:
			fmt.Printf("[log] %s\n", m.Text)
		}
	})

	if err := ctl.Connect(ctx); err != nil {
		fmt.Println("connect error:", err)
		os.Exit(1)
	}
	fmt.Println("connected:", ctl.PCID())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	_ = ctl.Disconnect()
}
