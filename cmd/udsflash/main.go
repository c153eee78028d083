package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/bootloader"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can/socketcan"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/can/virtual"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/config"
	"github.com/MaksRe/tosun-geehy-can-uds-bootloader-tool/pkg/firmware"
)

// logSink adapts bootloader.EventSink to logrus, and signals main once
// a started flash has finished so the process can exit with the right
// status code.
type logSink struct {
	done chan bool
}

func newLogSink() *logSink { return &logSink{done: make(chan bool, 1)} }

func (s *logSink) OnState(text string, severity bootloader.Severity) {
	switch severity {
	case bootloader.SeverityBad:
		log.Error(text)
	case bootloader.SeverityGood:
		log.Info(text)
	default:
		log.Debug(text)
	}
}

func (s *logSink) OnProgress(bytesSent uint32) {
	log.Infof("transfer progress: %d bytes sent", bytesSent)
}

func (s *logSink) OnFinished(success bool) {
	log.Infof("flash finished: success=%v", success)
	s.done <- success
}

func main() {
	log.SetLevel(log.InfoLevel)

	iface := flag.String("i", "can0", "socketcan interface, e.g. can0, vcan0")
	deviceSA := flag.Int("device-sa", -1, "device (ECU) J1939 source address, 0-255")
	testerSA := flag.Int("tester-sa", -1, "tester J1939 source address")
	firmwarePath := flag.String("firmware", "", "firmware image to flash; if empty, only connects and waits")
	dryRun := flag.Bool("dry-run", false, "use an in-memory loopback bus instead of socketcan")
	configPath := flag.String("config", "", "INI profile to load defaults from (see pkg/config)")
	saveConfigPath := flag.String("save-config", "", "write the effective profile back out to this path and exit")
	flag.Parse()

	profile := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Printf("could not load config %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		profile = loaded
	}
	if *deviceSA >= 0 {
		profile.Identifiers.DeviceSA = uint8(*deviceSA)
	}
	if *testerSA >= 0 {
		profile.Identifiers.TesterSA = uint8(*testerSA)
	}

	if *saveConfigPath != "" {
		if err := config.Save(*saveConfigPath, profile); err != nil {
			fmt.Printf("could not save config %s: %v\n", *saveConfigPath, err)
			os.Exit(1)
		}
		fmt.Printf("wrote profile to %s\n", *saveConfigPath)
		return
	}

	if profile.Identifiers.DeviceSA == 0 && *deviceSA < 0 {
		fmt.Println("-device-sa is required (directly, or via -config) and must be 0-255")
		os.Exit(1)
	}

	var port can.Port
	if *dryRun {
		port = virtual.New()
	} else {
		bus, err := socketcan.New(*iface)
		if err != nil {
			fmt.Printf("could not open interface %s: %v\n", *iface, err)
			os.Exit(1)
		}
		port = bus
	}

	sink := newLogSink()
	engine := bootloader.NewEngine(port,
		bootloader.WithEventSink(sink),
		bootloader.WithIdentifiers(profile.Identifiers),
		bootloader.WithTransferByteOrder(profile.TransferOrder),
		bootloader.WithTimeout(profile.Timeout),
		bootloader.WithEraseRoutineID(profile.EraseRoutineID),
		bootloader.WithDownloadAddress(profile.DownloadAddress),
		bootloader.WithFingerprintValue(profile.FingerprintByte),
	)

	if err := port.Connect(); err != nil {
		fmt.Printf("could not connect to %s: %v\n", *iface, err)
		os.Exit(1)
	}
	defer port.Disconnect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	if *firmwarePath == "" {
		log.Infof("connected to %s, device_sa=0x%02X tester_sa=0x%02X; idle", *iface, profile.Identifiers.DeviceSA, profile.Identifiers.TesterSA)
		<-sig
		return
	}

	data, err := firmware.ReadFile(*firmwarePath)
	if err != nil {
		fmt.Printf("could not read firmware %s: %v\n", *firmwarePath, err)
		os.Exit(1)
	}
	if err := engine.SetFirmware(data); err != nil {
		fmt.Printf("could not load firmware: %v\n", err)
		os.Exit(1)
	}
	if !engine.Start() {
		fmt.Println("could not start flash (engine not ready)")
		os.Exit(1)
	}

	select {
	case success := <-sink.done:
		if !success {
			os.Exit(1)
		}
	case <-sig:
		fmt.Println("interrupted")
		os.Exit(1)
	}
}
