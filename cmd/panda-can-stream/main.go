// panda-can-stream: Print CAN frames broadcast over the WiFi UDP channel
//
// Unlike panda-can-dump this never claims the device: it listens to the
// best-effort UDP telemetry and keeps the stream alive with periodic
// keepalives, so it can run alongside another host using the tunnel.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/herlein/gopanda/pkg/canframe"
	"github.com/herlein/gopanda/pkg/transport"
)

func main() {
	addr := flag.String("addr", "", "Streaming address (default "+transport.StreamingAddr+")")
	bus := flag.Int("bus", -1, "Only print frames from this bus (-1 for all)")
	flag.Parse()

	stream, err := transport.DialStreaming(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open stream: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	keepalive := time.NewTicker(transport.StreamingKeepalive / 2)
	defer keepalive.Stop()

	fmt.Println("Listening for streamed CAN traffic (Ctrl-C to stop)")
	count := 0
	for {
		select {
		case <-sig:
			fmt.Printf("\n%d frames\n", count)
			return
		case <-keepalive.C:
			if err := stream.Kick(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: Keepalive failed: %v\n", err)
				os.Exit(1)
			}
		default:
		}

		raw, err := stream.Recv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Receive failed: %v\n", err)
			os.Exit(1)
		}
		if len(raw) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		for _, f := range canframe.Decode(raw) {
			if *bus >= 0 && int(f.Bus) != *bus {
				continue
			}
			ext := " "
			if f.Extended {
				ext = "x"
			}
			fmt.Printf("bus %d  %08x%s  [%d]  % x\n", f.Bus, f.Address, ext, len(f.Data), f.Data)
			count++
		}
	}
}
