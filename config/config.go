// Package config layers defaults, an optional config file, PTOUCH_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nixxel-company-limited/ptouch-usb-printer/adapter"
	"github.com/nixxel-company-limited/ptouch-usb-printer/session"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transports
const (
	TransportUSB     = "usb"
	TransportDevNode = "devnode"
	TransportSerial  = "serial"
	TransportCapture = "capture"
)

// Keys
const (
	KeyTransport     = "transport"
	KeyDevice        = "device"
	KeyVendorID      = "vendor_id"
	KeyProductIDs    = "product_ids"
	KeyBaud          = "baud"
	KeyPollTimeout   = "poll_timeout"
	KeyMargin        = "margin"
	KeyAutoCut       = "auto_cut"
	KeyChain         = "chain"
	KeyMediaWidth    = "media_width"
	KeyServe         = "serve"
	KeyServerAddress = "server_address"
	KeyVerbose       = "verbose"
	KeyConfig        = "config"
)

// EnvPrefix is prepended to every key looked up in the environment
const EnvPrefix = "PTOUCH"

// Config is the resolved program configuration
type Config struct {
	Transport     string
	Device        string
	VendorID      uint16
	ProductIDs    []uint16
	Baud          int
	PollTimeout   time.Duration
	MediaWidth    int
	Serve         bool
	ServerAddress string
	Verbose       bool
	Options       session.Options
}

// FlagName returns the command line flag of a key: dashes instead of the
// underscores used in config files and the environment
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

var keys = []string{
	KeyTransport, KeyDevice, KeyVendorID, KeyProductIDs, KeyBaud, KeyPollTimeout,
	KeyMargin, KeyAutoCut, KeyChain, KeyMediaWidth, KeyServe, KeyServerAddress,
	KeyVerbose, KeyConfig,
}

// NewFlagSet declares the command line flags
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SortFlags = false

	flags.StringP(FlagName(KeyTransport), "t", TransportUSB, "printer transport: usb, devnode, serial or capture")
	flags.StringP(FlagName(KeyDevice), "d", "", "device node, serial port or capture file")
	flags.String(FlagName(KeyVendorID), fmt.Sprintf("0x%04x", adapter.VendorBrother), "USB vendor ID")
	flags.String(FlagName(KeyProductIDs), joinIDs(adapter.BrotherProducts),
		"comma separated USB product IDs, empty for any USB printer")
	flags.Int(FlagName(KeyBaud), adapter.DefaultBaudRate, "serial baud rate")
	flags.Duration(FlagName(KeyPollTimeout), adapter.DefaultPollTimeout, "status poll timeout")
	flags.Int(FlagName(KeyMargin), session.DefaultMargin, "feed before and after the label, in dots")
	flags.Bool(FlagName(KeyAutoCut), true, "cut the tape after the label")
	flags.Bool(FlagName(KeyChain), false, "chain labels without the final feed")
	flags.Int(FlagName(KeyMediaWidth), 12, "tape width reported by the capture transport, in mm")
	flags.Bool(FlagName(KeyServe), false, "run the TCP job server")
	flags.String(FlagName(KeyServerAddress), "localhost:9100", "job server listen address")
	flags.BoolP(FlagName(KeyVerbose), "v", false, "log every frame exchanged with the printer")
	flags.StringP(FlagName(KeyConfig), "c", "", "config file")

	return flags
}

// Load resolves the configuration. flags must have been parsed.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for _, key := range keys {
		flag := flags.Lookup(FlagName(key))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	if file := v.GetString(KeyConfig); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("ptouch")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/ptouch")
		v.AddConfigPath("/etc/ptouch")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Transport:     strings.ToLower(v.GetString(KeyTransport)),
		Device:        v.GetString(KeyDevice),
		Baud:          v.GetInt(KeyBaud),
		PollTimeout:   v.GetDuration(KeyPollTimeout),
		MediaWidth:    v.GetInt(KeyMediaWidth),
		Serve:         v.GetBool(KeyServe),
		ServerAddress: v.GetString(KeyServerAddress),
		Verbose:       v.GetBool(KeyVerbose),
		Options: session.Options{
			Margin:  v.GetInt(KeyMargin),
			AutoCut: v.GetBool(KeyAutoCut),
			Chain:   v.GetBool(KeyChain),
			Verbose: v.GetBool(KeyVerbose),
		},
	}

	vid, err := toID(v.Get(KeyVendorID))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyVendorID, err)
	}
	cfg.VendorID = vid

	pids, err := toIDs(v.Get(KeyProductIDs))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyProductIDs, err)
	}
	cfg.ProductIDs = pids

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that have a fixed range
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportUSB:
		// no product IDs selects any printer class device
	case TransportDevNode, TransportSerial:
		if len(c.ProductIDs) == 0 {
			return errors.New("no product IDs configured")
		}
	case TransportCapture:
		if c.Device == "" {
			return errors.New("capture transport needs a device file")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}

	if c.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Baud)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("invalid poll timeout %s", c.PollTimeout)
	}
	if c.Options.Margin < 0 || c.Options.Margin > 0xFFFF {
		return fmt.Errorf("margin %d out of range", c.Options.Margin)
	}
	return nil
}

// toIDs accepts a list from a config file or a comma separated string
func toIDs(raw any) ([]uint16, error) {
	var items []any
	switch x := raw.(type) {
	case []any:
		items = x
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	case string:
		for _, s := range strings.Split(x, ",") {
			if strings.TrimSpace(s) != "" {
				items = append(items, s)
			}
		}
	default:
		items = []any{x}
	}

	ids := make([]uint16, 0, len(items))
	for _, item := range items {
		id, err := toID(item)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// toID takes numbers as they are, config files decode 0x205e to an int
func toID(raw any) (uint16, error) {
	var n int64
	switch x := raw.(type) {
	case string:
		return parseID(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > 0xFFFF {
			return 0, fmt.Errorf("%d out of range", x)
		}
		n = int64(x)
	case float64:
		n = int64(x)
	default:
		return 0, fmt.Errorf("unsupported value %v", raw)
	}
	if n < 0 || n > 0xFFFF {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return uint16(n), nil
}

// parseID reads a USB ID, hexadecimal with or without 0x
func parseID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(id), nil
}

func joinIDs(ids []uint16) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("0x%04x", id)
	}
	return strings.Join(parts, ",")
}
