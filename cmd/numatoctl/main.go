package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/danmuck/numatoctl/internal/config"
	"github.com/danmuck/numatoctl/internal/device"
	"github.com/danmuck/numatoctl/internal/logging"
	"github.com/danmuck/numatoctl/internal/protocol"
	"github.com/danmuck/numatoctl/internal/transport"
)

const usage = `usage: numatoctl [flags] <command> [args]

commands:
  discover                  probe candidate paths, print found devices
  ver                       print the firmware version word
  id get                    print the device id
  id set <id>               reprogram the device id (permanent)
  gpio set <port>           drive one port high
  gpio clear <port>         drive one port low
  gpio read <port>          read one port level
  gpio readall              read all port levels as a mask
  notify get|on|off         query or switch edge notifications
  adc read <port>           read one analog channel

flags:
  -config <path>            TOML config file
  -device <path>            device file for single-device commands
  -id <id>                  address a discovered device by id instead
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "numatoctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("numatoctl", flag.ExitOnError)
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := flags.String("config", "", "TOML config file")
	devicePath := flags.String("device", "", "device file for single-device commands")
	deviceID := flags.String("id", "", "address a discovered device by id instead")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	// The env override wins over the config file.
	if cfg.LogLevel != "" {
		if _, set := os.LookupEnv(logging.EnvLogLevel); !set {
			os.Setenv(logging.EnvLogLevel, cfg.LogLevel)
		}
	}
	logging.ConfigureRuntime("numatoctl")

	rest := flags.Args()
	if len(rest) == 0 {
		rest = []string{"discover"}
	}

	sessionCfg := device.Config{
		Transport: transport.Config{
			BaudRate:    cfg.BaudRate,
			PollTimeout: cfg.PollTimeout(),
		},
		ReadTimeout: cfg.ReadTimeout(),
	}
	opener := transport.SerialOpener(sessionCfg.Transport)

	if rest[0] == "discover" {
		return discover(opener, sessionCfg, cfg.DevicePaths)
	}

	if *devicePath != "" {
		dev, err := device.Open(*devicePath, opener, sessionCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := dev.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "numatoctl: %v\n", err)
			}
		}()
		return dispatch(dev, rest)
	}
	if *deviceID != "" {
		id, err := strconv.ParseUint(*deviceID, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid id %q", *deviceID)
		}
		registry := device.NewRegistry(opener, sessionCfg)
		defer func() {
			if err := registry.Cleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "numatoctl: %v\n", err)
			}
		}()
		if _, err := registry.Discover(cfg.DevicePaths); err != nil {
			fmt.Fprintf(os.Stderr, "numatoctl: %v\n", err)
		}
		dev, ok := registry.Get(uint32(id))
		if !ok {
			return fmt.Errorf("no device with id %08x", id)
		}
		return dispatch(dev, rest)
	}
	return fmt.Errorf("command %q needs -device or -id", rest[0])
}

// discover exits zero iff at least one device answered the probe.
func discover(opener transport.Opener, cfg device.Config, paths []string) error {
	registry := device.NewRegistry(opener, cfg)
	devices, err := registry.Discover(paths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "numatoctl: %v\n", err)
	}
	defer func() {
		if err := registry.Cleanup(); err != nil {
			fmt.Fprintf(os.Stderr, "numatoctl: %v\n", err)
		}
	}()

	if len(devices) == 0 {
		return fmt.Errorf("no devices discovered")
	}
	fmt.Printf("Discovered devices: %d\n", len(devices))
	for _, dev := range devices {
		fmt.Println(dev)
	}
	return nil
}

func dispatch(dev *device.Device, args []string) error {
	switch args[0] {
	case "ver":
		fmt.Println(dev.Version())
		return nil
	case "id":
		return dispatchID(dev, args[1:])
	case "gpio":
		return dispatchGpio(dev, args[1:])
	case "notify":
		return dispatchNotify(dev, args[1:])
	case "adc":
		if len(args) != 3 || args[1] != "read" {
			return fmt.Errorf("usage: adc read <port>")
		}
		port, err := parsePort(args[2])
		if err != nil {
			return err
		}
		value, err := dev.ADCRead(port)
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func dispatchID(dev *device.Device, args []string) error {
	if len(args) == 1 && args[0] == "get" {
		fmt.Printf("%08x\n", dev.ID())
		return nil
	}
	if len(args) == 2 && args[0] == "set" {
		id, err := strconv.ParseUint(args[1], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid id %q", args[1])
		}
		return dev.SetID(uint32(id))
	}
	return fmt.Errorf("usage: id get | id set <id>")
}

func dispatchGpio(dev *device.Device, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: gpio set|clear|read <port> | gpio readall")
	}
	switch args[0] {
	case "readall":
		mask, err := dev.ReadAll()
		if err != nil {
			return err
		}
		fmt.Println(mask)
		return nil
	case "set", "clear", "read":
		if len(args) != 2 {
			return fmt.Errorf("usage: gpio %s <port>", args[0])
		}
		port, err := parsePort(args[1])
		if err != nil {
			return err
		}
		switch args[0] {
		case "set":
			if err := dev.Setup(port, device.Out); err != nil {
				return err
			}
			return dev.Write(port, true)
		case "clear":
			if err := dev.Setup(port, device.Out); err != nil {
				return err
			}
			return dev.Write(port, false)
		default:
			level, err := dev.Read(port)
			if err != nil {
				return err
			}
			if level {
				fmt.Println(1)
			} else {
				fmt.Println(0)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown gpio command %q", args[0])
}

func dispatchNotify(dev *device.Device, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: notify get|on|off")
	}
	switch args[0] {
	case "get":
		enabled, err := dev.NotifyEnabled()
		if err != nil {
			return err
		}
		if enabled {
			fmt.Println("enabled")
		} else {
			fmt.Println("disabled")
		}
		return nil
	case "on":
		return dev.SetNotify(true)
	case "off":
		return dev.SetNotify(false)
	}
	return fmt.Errorf("unknown notify command %q", args[0])
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", protocol.ErrPortRange, raw)
	}
	return port, nil
}
