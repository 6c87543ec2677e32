// Watch - terminal client for the rover's monitoring endpoints.
//
// Streams live status over the websocket feed and can optionally save
// camera frames to disk for offline inspection.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type status struct {
	RunState      string `json:"run_state"`
	BehaviorState string `json:"behavior_state"`
	LastCommand   string `json:"last_command"`
	CameraHealthy bool   `json:"camera_healthy"`
	Consumers     int    `json:"consumers"`
	ErrorMessage  string `json:"error_message"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "Rover monitoring address")
	frameDir := flag.String("frames", "", "Directory to save camera frames (empty disables)")
	saveEvery := flag.Int("save-every", 10, "Save one frame out of every N received")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Disconnecting...")
		cancel()
	}()

	fmt.Printf("👁️  Watching rover at %s\n", *addr)

	if *frameDir != "" {
		if err := os.MkdirAll(*frameDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create frame dir: %v\n", err)
			os.Exit(1)
		}
		go watchFrames(ctx, *addr, *frameDir, *saveEvery)
	}

	if err := watchStatus(ctx, *addr); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "status stream failed: %v\n", err)
		os.Exit(1)
	}
}

// watchStatus prints one line per status update until ctx ends.
func watchStatus(ctx context.Context, addr string) error {
	conn, err := dial(ctx, "ws://"+addr+"/ws/status")
	if err != nil {
		return err
	}
	defer conn.Close()

	go closeOnDone(ctx, conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var st status
		if err := json.Unmarshal(msg, &st); err != nil {
			fmt.Printf("?? unparseable status: %s\n", msg)
			continue
		}

		health := "✅"
		if !st.CameraHealthy {
			health = "⚠️ "
		}
		line := fmt.Sprintf("%s %s/%s cmd=%s camera=%s clients=%d",
			time.Now().Format("15:04:05"),
			st.RunState, st.BehaviorState, st.LastCommand, health, st.Consumers)
		if st.ErrorMessage != "" {
			line += " error=" + st.ErrorMessage
		}
		fmt.Println(line)
	}
}

// watchFrames saves every Nth received frame as a timestamped JPEG.
func watchFrames(ctx context.Context, addr, dir string, every int) {
	conn, err := dial(ctx, "ws://"+addr+"/ws/camera")
	if err != nil {
		fmt.Fprintf(os.Stderr, "camera stream failed: %v\n", err)
		return
	}
	defer conn.Close()

	go closeOnDone(ctx, conn)

	if every < 1 {
		every = 1
	}

	count := 0
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		count++
		if count%every != 0 {
			continue
		}

		name := filepath.Join(dir, fmt.Sprintf("frame_%s.jpg", time.Now().Format("150405.000")))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "frame save failed: %v\n", err)
			continue
		}
		fmt.Printf("📷 saved %s (%d bytes)\n", name, len(data))
	}
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

// closeOnDone unblocks a pending ReadMessage when ctx is cancelled.
func closeOnDone(ctx context.Context, conn *websocket.Conn) {
	<-ctx.Done()
	conn.Close()
}
