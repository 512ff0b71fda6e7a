// panda-recover: Rewrite a bricked or stale panda from the bootloader up
//
// Drops the device into the ST system bootloader, rewrites the bootstub
// over DFU, then flashes the bundled application image. Use this when a
// failed flash left the device unable to enumerate normally.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/herlein/gopanda/pkg/dfu"
	"github.com/herlein/gopanda/pkg/panda"
)

func main() {
	serial := flag.String("serial", "", "Select device by serial number")
	installRoot := flag.String("root", "", "Install root holding the bundled firmware images")
	timeout := flag.Duration("timeout", 60*time.Second, "How long to wait for the bootloader to enumerate")
	flag.Parse()

	client := &dfu.USBClient{InstallRoot: *installRoot}

	opts := []panda.Option{
		panda.WithDFU(client),
		panda.WithInstallRoot(*installRoot),
	}
	if *serial != "" {
		opts = append(opts, panda.WithSerial(*serial))
	}

	dev, err := panda.Open(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open device: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	// The flash layout differs per MCU family; bind it before the
	// device disappears into the bootloader.
	client.Mcu = dev.Mcu()

	fmt.Printf("Recovering %s (%s, MCU %s)\n", dev.Serial(), dev.Hardware(), dev.Mcu())

	ok, err := dev.Recover(*timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Recovery failed: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: Bootloader did not enumerate within %v\n", *timeout)
		os.Exit(1)
	}

	version, err := dev.GetVersion()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Version query after recovery failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recovery OK, running %s\n", version)
}
