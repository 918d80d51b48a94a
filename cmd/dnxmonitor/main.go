// Command dnxmonitor drives one DnX flash end to end against a real USB
// device, rendering progress in a bubbletea dashboard (internal/tui) and
// optionally exposing a loopback status API (internal/apiserver) for a
// remote dashboard to attach to. The core protocol engine it drives
// lives entirely in internal/{dnxproto,payload,statemachine,session};
// this command is just the operator-facing shell around it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"dnx/internal/apiserver"
	"dnx/internal/config"
	"dnx/internal/dnxproto"
	"dnx/internal/filelog"
	"dnx/internal/payload"
	"dnx/internal/session"
	"dnx/internal/transport"
	"dnx/internal/tui"
)

// Exit codes dnxmonitor reports to its caller: 0 for a completed flash,
// 1 for a protocol-level abort (the device violated the ACK protocol or
// reported a device error), 2 for a transport failure (timeout, I/O
// error, or disconnection), 3 for a configuration or payload problem
// caught before a transport was ever opened.
const (
	exitSuccess   = 0
	exitProtocol  = 1
	exitTransport = 2
	exitPayload   = 3
)

// exitCodeFor maps a Session.Run error onto the exit code taxonomy
// above. It categorizes by type via errors.As rather than by inspecting
// the error string, since internal/session already distinguishes these
// failure kinds in the typed errors it returns.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	var timeout *transport.TimeoutError
	if errors.As(err, &timeout) {
		return exitTransport
	}
	var ioErr *transport.IoError
	if errors.As(err, &ioErr) {
		return exitTransport
	}
	var disconnected *transport.DisconnectedError
	if errors.As(err, &disconnected) {
		return exitTransport
	}
	var aborted *session.AbortedError
	if errors.As(err, &aborted) {
		return exitProtocol
	}
	var cancelled *session.CancelledError
	if errors.As(err, &cancelled) {
		return exitProtocol
	}
	return exitTransport
}

func main() {
	os.Exit(run())
}

func run() int {
	firmwarePath := flag.String("firmware", "", "path to dnx_fwr.bin (overrides DEVICE_FIRMWARE_PATH)")
	osImagePath := flag.String("os-image", "", "path to dnx_osr.img (overrides DEVICE_OS_IMAGE_PATH)")
	osImageIndex := flag.Int("os-image-index", 0, "OSIP partition entry to flash (overrides DEVICE_OS_IMAGE_INDEX)")
	vendorID := flag.Uint("vid", 0, "USB vendor ID override (default 0x8086)")
	productID := flag.Uint("pid", 0, "USB product ID override (default: probe the known ROM-stage PID list)")
	apiAddr := flag.String("api-addr", "", "loopback address to serve the status API on (empty disables it)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnxmonitor: loading config: %v\n", err)
		return exitPayload
	}
	cfg.ApplyFlags(*firmwarePath, *osImagePath, *osImageIndex, uint16(*vendorID), uint16(*productID))

	if cfg.FirmwarePath == "" {
		fmt.Fprintln(os.Stderr, "dnxmonitor: no firmware image configured (-firmware or DEVICE_FIRMWARE_PATH)")
		return exitPayload
	}

	fw, err := loadFirmware(cfg.FirmwarePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnxmonitor: %v\n", err)
		return exitPayload
	}

	var osPayload *payload.OsPayload
	if cfg.OsImagePath != "" {
		osPayload, err = loadOsImage(cfg.OsImagePath, cfg.OsImageIndex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dnxmonitor: %v\n", err)
			return exitPayload
		}
	}

	initialVID, initialPID, err := openTarget(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnxmonitor: %v\n", err)
		return exitTransport
	}
	t, err := transport.Open(initialVID, initialPID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnxmonitor: opening transport: %v\n", err)
		return exitTransport
	}
	t.SetReadTimeout(transport.HandshakeTimeout)

	cancel := &session.CancelFlag{}
	tuiObserver, eventCh := tui.Observer(64)

	logger := filelog.Get()
	defer logger.Close()
	logObserver := session.ObserverFunc(func(e session.Event) {
		if le, ok := e.(session.LogEvent); ok {
			logger.Logf(le.Level, "%s", le.Message)
		}
	})

	observers := []session.Observer{tuiObserver, logObserver}

	var apiSrv *apiserver.Server
	var apiCtx context.Context
	var apiCancel context.CancelFunc
	if *apiAddr != "" {
		apiSrv = apiserver.New(*apiAddr, cancel)
		observers = append(observers, apiSrv.Observer())
		apiCtx, apiCancel = context.WithCancel(context.Background())
		go apiSrv.Serve(apiCtx)
		defer apiCancel()
	}

	reopen := func() (transport.Transport, error) { return reopenTransport(cfg) }

	sess := session.New(session.Config{
		Transport: t,
		Reopen:    reopen,
		Firmware:  fw,
		Os:        osPayload,
		Observers: observers,
		Cancel:    cancel,
		VendorID:  initialVID,
		ProductID: initialPID,
	})

	sessionErr := make(chan error, 1)
	go func() { sessionErr <- sess.Run(initialVID, initialPID) }()

	program := tea.NewProgram(tui.New(eventCh, cancel))
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dnxmonitor: tui: %v\n", err)
	}

	return exitCodeFor(<-sessionErr)
}

func loadFirmware(path string) (*payload.FirmwarePayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading firmware %s: %w", path, err)
	}
	fw, err := payload.NewFirmwarePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing firmware %s: %w", path, err)
	}
	return fw, nil
}

func loadOsImage(path string, index int) (*payload.OsPayload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading OS image %s: %w", path, err)
	}
	osPayload, err := payload.NewOsPayload(raw, index)
	if err != nil {
		return nil, fmt.Errorf("parsing OS image %s: %w", path, err)
	}
	return osPayload, nil
}

// openTarget resolves the initial VID:PID to dial: an explicit config
// override when set, otherwise the first known ROM-stage PID.
func openTarget(cfg *config.SessionConfig) (uint16, uint16, error) {
	vid := cfg.VendorID
	if vid == 0 {
		vid = dnxproto.USBVendorID
	}
	if cfg.ProductID != 0 {
		return vid, cfg.ProductID, nil
	}
	if len(dnxproto.ROMProductIDs) == 0 {
		return 0, 0, fmt.Errorf("no ROM-stage product IDs configured")
	}
	return vid, dnxproto.ROMProductIDs[0], nil
}

// reopenTransport is the Reopener used after a RESET re-enumeration: the
// device comes back under a different stage-specific PID, and the
// orchestrator accepts any known ROM-stage PID as a valid continuation.
// When the operator pinned a PID explicitly, only that one is tried;
// otherwise every ROM-stage PID is probed in turn.
func reopenTransport(cfg *config.SessionConfig) (transport.Transport, error) {
	vid := cfg.VendorID
	if vid == 0 {
		vid = dnxproto.USBVendorID
	}

	candidates := dnxproto.ROMProductIDs
	if cfg.ProductID != 0 {
		candidates = []uint16{cfg.ProductID}
	}

	var lastErr error
	for _, pid := range candidates {
		t, err := transport.Open(vid, pid)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reopening after RESET: %w", lastErr)
}
