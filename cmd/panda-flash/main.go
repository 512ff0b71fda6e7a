// panda-flash: Write a signed firmware image to a panda device
//
// Loads the image (raw binary or Intel HEX), switches the device into
// its bootstub, streams the image and reconnects into the new firmware.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/herlein/gopanda/pkg/panda"
)

func main() {
	serial := flag.String("serial", "", "Select device by serial number")
	image := flag.String("image", "", "Firmware image path (default: bundled image for the device's MCU)")
	installRoot := flag.String("root", "", "Install root holding the bundled firmware images")
	flag.Parse()

	opts := []panda.Option{}
	if *serial != "" {
		opts = append(opts, panda.WithSerial(*serial))
	}
	if *installRoot != "" {
		opts = append(opts, panda.WithInstallRoot(*installRoot))
	}

	dev, err := panda.Open(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open device: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	path := *image
	if path == "" {
		path = panda.DefaultImagePath(*installRoot, dev.Mcu())
	}

	img, err := panda.LoadImage(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load image %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("Flashing %s (%d bytes) to %s (%s)\n", path, len(img.Code), dev.Serial(), dev.Hardware())

	if err := dev.Flash(img, true); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Flash failed: %v\n", err)
		os.Exit(1)
	}

	version, err := dev.GetVersion()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Version query after flash failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Flash OK, running %s\n", version)
}
