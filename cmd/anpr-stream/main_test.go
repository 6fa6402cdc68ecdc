package main

import (
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestShutdownServerClosesStreamingClients(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		// Like an MJPEG stream waiting for a frame that never comes.
		<-unblock
	})}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go func() { _ = srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/stream/video_feed")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	bodyDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		close(bodyDone)
	}()

	start := time.Now()
	shutdownServer(srv, 50*time.Millisecond, zerolog.Nop())
	if took := time.Since(start); took > time.Second {
		t.Errorf("shutdownServer took %v", took)
	}

	select {
	case <-bodyDone:
	case <-time.After(2 * time.Second):
		t.Fatal("streaming client still connected after shutdown")
	}
}
