// panda-can-dump: Stream received CAN frames to stdout
//
// Sets the device to ELM327 safety mode so traffic is observable,
// optionally filters by bus, and prints one line per frame until
// interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/herlein/gopanda/pkg/panda"
)

func main() {
	serial := flag.String("serial", "", "Select device by serial number")
	wifi := flag.String("wifi", "", "Use the WiFi tunnel at this address instead of USB")
	bus := flag.Int("bus", -1, "Only print frames from this bus (-1 for all)")
	flag.Parse()

	opts := []panda.Option{}
	if *serial != "" {
		opts = append(opts, panda.WithSerial(*serial))
	}
	if *wifi != "" {
		opts = append(opts, panda.WithWifi(*wifi))
	}

	dev, err := panda.Open(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open device: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	if err := dev.SetSafetyMode(panda.SafetyElm327, true); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to set safety mode: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("Dumping CAN traffic from %s (Ctrl-C to stop)\n", dev.Serial())
	count := 0
	for {
		select {
		case <-sig:
			fmt.Printf("\n%d frames\n", count)
			return
		default:
		}

		frames, err := dev.CanRecv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Receive failed: %v\n", err)
			os.Exit(1)
		}
		for _, f := range frames {
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
