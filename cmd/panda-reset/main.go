// panda-reset: Reset panda devices to recover from USB errors
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/herlein/gopanda/pkg/panda"
)

func main() {
	serial := flag.String("serial", "", "Select device by serial number")
	bootstub := flag.Bool("bootstub", false, "Reset into the bootstub instead of the application")
	flag.Parse()

	opts := []panda.Option{}
	if *serial != "" {
		opts = append(opts, panda.WithSerial(*serial))
	}

	dev, err := panda.Open(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open device: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	fmt.Printf("Resetting %s\n", dev.Serial())

	if err := dev.Reset(*bootstub, false); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Reset failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reset OK, device is in %s\n", dev.State())
}
