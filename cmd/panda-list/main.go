// panda-list: List all connected panda devices
//
// This tool enumerates all panda devices connected over USB and
// displays their serial numbers and firmware stage.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/herlein/gopanda/pkg/panda"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output (open each device and query identity)")
	flag.Parse()

	infos, err := panda.Discover()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to enumerate devices: %v\n", err)
		os.Exit(1)
	}

	if len(infos) == 0 {
		fmt.Println("No panda devices found")
		os.Exit(0)
	}

	fmt.Printf("Found %d panda device(s):\n", len(infos))
	fmt.Println()

	for i, info := range infos {
		stage := "application"
		if info.Bootstub {
			stage = "bootstub"
		}
		fmt.Printf("  #%d  %s  %s\n", i, info.Serial, stage)

		if !*verbose {
			continue
		}
		dev, err := panda.Open(panda.WithSerial(info.Serial))
		if err != nil {
			fmt.Printf("      (open failed: %v)\n", err)
			continue
		}
		version, err := dev.GetVersion()
		if err == nil {
			fmt.Printf("      Firmware: %s\n", version)
		} else {
			fmt.Printf("      Firmware: (error: %v)\n", err)
		}
		fmt.Printf("      Hardware: %s (MCU %s)\n", dev.Hardware(), dev.Mcu())
		dev.Close()
	}

	if !*verbose {
		fmt.Println()
		fmt.Println("Use -serial flag with other tools to select device")
	}
}
