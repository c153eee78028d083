// Package config loads the bootloader's persisted profile: CAN
// adapter selection and the UDS/J1939 addressing and timing defaults
// an operator would otherwise have to re-enter on every run. File
// format and parsing approach follow gocanopen's pkg/od EDS loader:
// a single gopkg.in/ini.v1 document read into a typed struct.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/bootloader"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/uds"
)

// BaudRate is one of the J1939/CAN bus speeds this tool supports.
type BaudRate int

const (
	Baud125k  BaudRate = 125000
	Baud250k  BaudRate = 250000
	Baud500k  BaudRate = 500000
	Baud1000k BaudRate = 1000000
)

// Profile is the full configuration surface described by spec.md's
// external interfaces section: which adapter channel/speed to use,
// whether the bus terminator is enabled, the UDS addressing, the
// RequestDownload byte order, and the response timeout.
type Profile struct {
	Channel    int
	Baud       BaudRate
	Terminator bool

	Identifiers   bootloader.Identifiers
	TransferOrder uds.ByteOrder
	Timeout       time.Duration

	EraseRoutineID  uint16
	DownloadAddress uint32
	FingerprintByte uint8
}

// Default returns a Profile populated with the same defaults NewEngine
// would pick, so a freshly generated profile file documents them.
func Default() Profile {
	return Profile{
		Channel:         1,
		Baud:            Baud500k,
		Terminator:      true,
		Identifiers:     bootloader.DefaultIdentifiers(),
		TransferOrder:   uds.ByteOrderBig,
		Timeout:         time.Second,
		EraseRoutineID:  0xFF00,
		DownloadAddress: 0,
		FingerprintByte: 0xAA,
	}
}

// Load reads a Profile from an INI file at path. Missing keys fall
// back to Default's values rather than erroring, so a profile file
// only needs to mention what it overrides.
func Load(path string) (Profile, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	p := Default()
	sec := cfg.Section("bootloader")

	if k, err := sec.GetKey("channel"); err == nil {
		p.Channel, _ = k.Int()
	}
	if k, err := sec.GetKey("baud"); err == nil {
		n, err := k.Int()
		if err != nil {
			return Profile{}, fmt.Errorf("config: invalid baud: %w", err)
		}
		p.Baud = BaudRate(n)
	}
	if k, err := sec.GetKey("terminator"); err == nil {
		p.Terminator = k.MustBool(p.Terminator)
	}
	if k, err := sec.GetKey("tester_sa"); err == nil {
		n, err := k.Uint()
		if err != nil {
			return Profile{}, fmt.Errorf("config: invalid tester_sa: %w", err)
		}
		p.Identifiers.TesterSA = uint8(n)
	}
	if k, err := sec.GetKey("device_sa"); err == nil {
		n, err := k.Uint()
		if err != nil {
			return Profile{}, fmt.Errorf("config: invalid device_sa: %w", err)
		}
		p.Identifiers.DeviceSA = uint8(n)
	}
	if k, err := sec.GetKey("transfer_order"); err == nil {
		switch k.String() {
		case "little":
			p.TransferOrder = uds.ByteOrderLittle
		case "big", "":
			p.TransferOrder = uds.ByteOrderBig
		default:
			return Profile{}, fmt.Errorf("config: invalid transfer_order %q", k.String())
		}
	}
	if k, err := sec.GetKey("timeout_ms"); err == nil {
		n, err := k.Int()
		if err != nil {
			return Profile{}, fmt.Errorf("config: invalid timeout_ms: %w", err)
		}
		p.Timeout = time.Duration(n) * time.Millisecond
	}
	if k, err := sec.GetKey("erase_routine_id"); err == nil {
		n, err := k.Uint()
		if err != nil {
			return Profile{}, fmt.Errorf("config: invalid erase_routine_id: %w", err)
		}
		p.EraseRoutineID = uint16(n)
	}
	if k, err := sec.GetKey("download_address"); err == nil {
		n, err := k.Uint()
		if err != nil {
			return Profile{}, fmt.Errorf("config: invalid download_address: %w", err)
		}
		p.DownloadAddress = uint32(n)
	}
	if k, err := sec.GetKey("fingerprint_byte"); err == nil {
		n, err := k.Uint()
		if err != nil {
			return Profile{}, fmt.Errorf("config: invalid fingerprint_byte: %w", err)
		}
		p.FingerprintByte = uint8(n)
	}
	return p, nil
}

// Save writes p back out as an INI file, so the CLI can persist
// operator overrides (chosen channel, discovered device SA, ...)
// between runs.
func Save(path string, p Profile) error {
	cfg := ini.Empty()
	sec, err := cfg.NewSection("bootloader")
	if err != nil {
		return err
	}
	sec.NewKey("channel", fmt.Sprintf("%d", p.Channel))
	sec.NewKey("baud", fmt.Sprintf("%d", p.Baud))
	sec.NewKey("terminator", fmt.Sprintf("%t", p.Terminator))
	sec.NewKey("tester_sa", fmt.Sprintf("%d", p.Identifiers.TesterSA))
	sec.NewKey("device_sa", fmt.Sprintf("%d", p.Identifiers.DeviceSA))
	order := "big"
	if p.TransferOrder == uds.ByteOrderLittle {
		order = "little"
	}
	sec.NewKey("transfer_order", order)
	sec.NewKey("timeout_ms", fmt.Sprintf("%d", p.Timeout.Milliseconds()))
	sec.NewKey("erase_routine_id", fmt.Sprintf("%d", p.EraseRoutineID))
	sec.NewKey("download_address", fmt.Sprintf("%d", p.DownloadAddress))
	sec.NewKey("fingerprint_byte", fmt.Sprintf("%d", p.FingerprintByte))
	return cfg.SaveTo(path)
}
