package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	TransportBluez  = "bluez"
	TransportRFCOMM = "rfcomm"

	InjectorUinput = "uinput"
	InjectorLog    = "log"
)

type Config struct {
	ServiceUUID    string       `json:"service_uuid"`
	ServiceName    string       `json:"service_name"`
	Transport      string       `json:"transport"`
	Adapter        string       `json:"adapter"`
	Channel        uint8        `json:"channel"`
	ConnectTimeout Duration     `json:"connect_timeout"`
	Injector       string       `json:"injector"`
	LogLevel       string       `json:"log_level"`
	LogFile        string       `json:"log_file,omitempty"`
	Devices        []PeerDevice `json:"devices,omitempty"`
}

// Duration reads Go duration strings ("10s") from JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func defaultConfig() Config {
	return Config{
		ServiceUUID:    DefaultServiceUUID,
		ServiceName:    DefaultServiceName,
		Transport:      TransportBluez,
		Adapter:        "hci0",
		Channel:        1,
		ConnectTimeout: Duration(10 * time.Second),
		Injector:       InjectorUinput,
		LogLevel:       "info",
	}
}

func configPath() string {
	if p := os.Getenv("BTREMOTE_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "btremote", "config.json")
}

// loadConfig reads the config file over the defaults. A missing file is not
// an error.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Transport {
	case TransportBluez, TransportRFCOMM:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	switch c.Injector {
	case InjectorUinput, InjectorLog:
	default:
		return fmt.Errorf("config: unknown injector %q", c.Injector)
	}
	if c.Transport == TransportRFCOMM && (c.Channel < 1 || c.Channel > 30) {
		return fmt.Errorf("config: rfcomm channel %d out of range 1-30", c.Channel)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: connect_timeout must be positive")
	}
	for _, d := range c.Devices {
		if _, err := ParseAddress(d.Address); err != nil {
			return fmt.Errorf("config: device %q: %w", d.Name, err)
		}
	}
	return nil
}

// serviceID is only needed up front by the server; the client lets the
// Connector report a bad identifier as a failed attempt.
func (c Config) serviceID() (ServiceID, error) {
	return ParseServiceID(c.ServiceUUID)
}

// resolveDevice picks a peer. An address is used directly, a name is looked
// up among the known devices, and with no argument the first known device is
// used.
func resolveDevice(known []PeerDevice, arg string) (PeerDevice, error) {
	if arg == "" {
		if len(known) == 0 {
			return PeerDevice{}, fmt.Errorf("%w: no device specified and none known", ErrDeviceNotFound)
		}
		return known[0], nil
	}
	if _, err := ParseAddress(arg); err == nil {
		for _, d := range known {
			if strings.EqualFold(d.Address, arg) {
				return d, nil
			}
		}
		return PeerDevice{Address: strings.ToUpper(arg)}, nil
	}
	for _, d := range known {
		if strings.EqualFold(d.Name, arg) {
			return d, nil
		}
	}
	return PeerDevice{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, arg)
}
