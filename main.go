package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/nixxel-company-limited/ptouch-usb-printer/adapter"
	"github.com/nixxel-company-limited/ptouch-usb-printer/config"
	"github.com/nixxel-company-limited/ptouch-usb-printer/pbm"
	"github.com/nixxel-company-limited/ptouch-usb-printer/server"
	"github.com/nixxel-company-limited/ptouch-usb-printer/session"
	"github.com/spf13/pflag"
)

func main() {
	flags := config.NewFlagSet(os.Args[0])
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file.pbm>\n       %s --serve [flags]\n", os.Args[0], os.Args[0])
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Printf("Configuration error: %v", err)
		os.Exit(2)
	}

	if cfg.Serve {
		err = serve(cfg)
	} else {
		if flags.NArg() != 1 {
			flags.Usage()
			os.Exit(2)
		}
		err = printFile(cfg, flags.Arg(0))
	}
	if err != nil {
		log.Println(diagnose(err))
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	log.Printf("Server will listen on: %s", cfg.ServerAddress)

	device, err := openAdapter(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	svr := server.New(device, cfg.ServerAddress, cfg.Options)
	return svr.Start()
}

func printFile(cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &inputError{err: err}
	}
	defer f.Close()

	// decode before touching the printer
	bitmap, err := pbm.Decode(f)
	if err != nil {
		return &inputError{err: err}
	}

	device, err := openAdapter(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	if err := device.Open(); err != nil {
		return fmt.Errorf("failed to open printer: %w", err)
	}
	return session.New(device, cfg.Options).Print(bitmap)
}

// openAdapter builds the configured transport. Device paths left empty are
// discovered by vendor and product ID.
func openAdapter(cfg *config.Config) (adapter.Adapter, error) {
	switch cfg.Transport {
	case config.TransportDevNode:
		path := cfg.Device
		if path == "" {
			found, err := adapter.FindDeviceNode(cfg.VendorID, cfg.ProductIDs)
			if err != nil {
				return nil, err
			}
			path = found
		}
		return adapter.NewDeviceNodeAdapter(path), nil

	case config.TransportSerial:
		path := cfg.Device
		if path == "" {
			found, err := adapter.FindSerialPort(cfg.VendorID, cfg.ProductIDs)
			if err != nil {
				return nil, err
			}
			path = found
		}
		dev := adapter.NewSerialAdapter(path, cfg.Baud)
		dev.SetPollTimeout(cfg.PollTimeout)
		return dev, nil

	case config.TransportCapture:
		out, err := os.Create(cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to create capture file: %w", err)
		}
		return adapter.NewCaptureAdapter(out, cfg.MediaWidth), nil

	default:
		var dev *adapter.USBAdapter
		var err error
		if len(cfg.ProductIDs) == 0 {
			dev, err = adapter.NewUSBAdapterAuto()
		} else {
			dev, err = adapter.NewUSBAdapter(cfg.VendorID, cfg.ProductIDs)
		}
		if err != nil {
			return nil, err
		}
		log.Printf("Using USB device %s", dev.GetDevice())
		dev.SetPollTimeout(cfg.PollTimeout)
		return dev, nil
	}
}

// inputError marks a file that cannot be opened or decoded
type inputError struct {
	err error
}

func (e *inputError) Error() string {
	return e.err.Error()
}

func (e *inputError) Unwrap() error {
	return e.err
}

// diagnose maps an error to the message shown to the user
func diagnose(err error) string {
	var inputErr *inputError
	var formatErr *pbm.FormatError
	var devErr *session.DeviceError

	switch {
	case errors.As(err, &inputErr), errors.As(err, &formatErr):
		return fmt.Sprintf("Bad input file: %v", err)
	case errors.Is(err, adapter.ErrNotFound):
		return fmt.Sprintf("No printer found: %v", err)
	case errors.Is(err, session.ErrInvalidMedia):
		return fmt.Sprintf("Replace label tape cartridge: %v", err)
	case errors.As(err, &devErr):
		return fmt.Sprintf("Printer I/O error: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
