// panda-health: Print a panda device's health snapshot
//
// Queries the device once (or periodically with -watch) and prints the
// voltage, current, CAN error counters and safety state.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/herlein/gopanda/pkg/panda"
)

func main() {
	serial := flag.String("serial", "", "Select device by serial number")
	wifi := flag.String("wifi", "", "Use the WiFi tunnel at this address instead of USB")
	watch := flag.Duration("watch", 0, "Repeat the query at this interval (e.g. 1s)")
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

	fmt.Printf("Device %s (%s)\n", dev.Serial(), dev.Hardware())

	for {
		h, err := dev.Health()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Health query failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Uptime:      %d s\n", h.Uptime)
		fmt.Printf("Voltage:     %.3f V\n", float64(h.Voltage)/1000.0)
		fmt.Printf("Current:     %d mA\n", h.Current)
		fmt.Printf("Safety mode: %d (param %d)\n", h.SafetyMode, h.SafetyParam)
		fmt.Printf("Ignition:    line=%v can=%v\n", h.IgnitionLine, h.IgnitionCan)
		fmt.Printf("Controls:    allowed=%v power_save=%v heartbeat_lost=%v\n",
			h.ControlsAllowed, h.PowerSaveEnabled, h.HeartbeatLost)
		fmt.Printf("CAN errors:  rx=%d send=%d fwd=%d gmlan=%d\n",
			h.CanRxErrs, h.CanSendErrs, h.CanFwdErrs, h.GmlanSendErrs)
		fmt.Printf("Faults:      0x%08x (status %d)\n", h.Faults, h.FaultStatus)

		if *watch == 0 {
			break
		}
		time.Sleep(*watch)
		fmt.Println()
	}
}
