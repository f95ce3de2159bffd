// serialprint streams a G-code program to a 3D printer over a serial
// connection, pacing transmission on the printer's acknowledgements. While a
// job runs it polls temperatures, redraws a fullscreen terminal display, and
// serves job state over HTTP for dashboards. Ctrl+C turns the heaters and
// fan off before closing the port.
//
// Usage:
//
//	serialprint [options]
//
// Options:
//
//	-file string    G-code file to print (prompts when empty)
//	-device string  Serial device or mock-printer socket (autodetect when empty)
//	-baud int       Serial baud rate (default 115200)
//	-config string  Configuration file path
//	-listen string  Status server address, empty to disable (default ":8910")
//	-logfile string Log file path (default: stderr)
//	-version        Print version and exit
//
// Flags take precedence over SERIALPRINT_* environment variables (a .env
// file is honored), which take precedence over the config file.
//
// Examples:
//
//	# Autodetect the printer and prompt for a file
//	serialprint
//
//	# Print against the mock printer
//	serialprint -device /tmp/serialprint-mock -file benchy.gcode
//
//	# Headless with a config file
//	serialprint -config printer.ini -file benchy.gcode -logfile print.log
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bfourk/SerialPrint/pkg/config"
	"github.com/bfourk/SerialPrint/pkg/display"
	"github.com/bfourk/SerialPrint/pkg/gcode"
	"github.com/bfourk/SerialPrint/pkg/log"
	"github.com/bfourk/SerialPrint/pkg/metrics"
	"github.com/bfourk/SerialPrint/pkg/printer"
	"github.com/bfourk/SerialPrint/pkg/safety"
	"github.com/bfourk/SerialPrint/pkg/serial"
	"github.com/bfourk/SerialPrint/pkg/status"
)

const version = "0.3.0"

const (
	defaultBaud   = 115200
	defaultListen = ":8910"
	helloTimeout  = 10 * time.Second
)

func main() {
	// .env feeds the SERIALPRINT_* variables read below; a missing file is
	// not an error.
	_ = godotenv.Load()

	filePath := flag.String("file", "", "G-code file to print (prompts when empty)")
	device := flag.String("device", "", "Serial device or mock-printer socket (autodetect when empty)")
	baud := flag.Int("baud", defaultBaud, "Serial baud rate")
	configFile := flag.String("config", "", "Configuration file path")
	listen := flag.String("listen", defaultListen, "Status server address (empty to disable)")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("serialprint %s\n", version)
		return
	}

	flagSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { flagSet[f.Name] = true })

	fileCfg := config.New()
	if *configFile != "" {
		c, err := config.Load(*configFile)
		if err != nil {
			fatalf("Error loading config: %v", err)
		}
		fileCfg = c
	}
	serialSec := fileCfg.SectionOr("serial")
	jobSec := fileCfg.SectionOr("job")
	statusSec := fileCfg.SectionOr("status")

	deviceName := pickString(flagSet["device"], *device, "SERIALPRINT_DEVICE", serialSec, "device", "")
	baudRate := pickInt(flagSet["baud"], *baud, "SERIALPRINT_BAUD", serialSec, "baud", defaultBaud)
	listenAddr := pickString(flagSet["listen"], *listen, "SERIALPRINT_LISTEN", statusSec, "listen", defaultListen)
	gcodePath := pickString(flagSet["file"], *filePath, "SERIALPRINT_FILE", nil, "", "")

	readTimeout := pickDuration(serialSec, "read_timeout", printer.DefaultReadTimeout)
	pollInterval := pickDuration(jobSec, "poll_interval", printer.DefaultPollInterval)
	refreshInterval := pickDuration(jobSec, "refresh_interval", printer.DefaultRefreshInterval)

	logger := log.Default()
	log.ConfigureFromEnv(logger)
	if *logFile != "" {
		w, err := log.NewRotatingWriter(*logFile, 10, 3)
		if err != nil {
			fatalf("Error opening log file: %v", err)
		}
		defer w.Close()
		logger.SetWriter(w)
	}

	var screen *display.Screen
	if isTerminal(os.Stdout) {
		screen = display.New(os.Stdout)
		if *logFile == "" {
			// The fullscreen display owns the terminal. Without a logfile
			// there is nowhere for log lines to go that would not tear the
			// frame.
			logger.SetWriter(io.Discard)
		}
	}

	if deviceName == "" {
		deviceName = waitForPrinter()
		fmt.Printf("Found printer at port %s\n", deviceName)
	}

	port, err := openDevice(deviceName, baudRate, readTimeout)
	if err != nil {
		fatalf("Error opening %s: %v", deviceName, err)
	}
	conn := serial.NewLineConn(port)

	guard := safety.NewGuard(conn, logger)
	guard.Arm()
	if screen != nil {
		guard.OnShutdown(screen.Clear)
	}
	guard.NotifyOnInterrupt()

	if gcodePath == "" {
		gcodePath = promptForFile()
	}
	prog, err := gcode.Load(gcodePath)
	if err != nil {
		fatalf("Error reading %s: %v", gcodePath, err)
	}
	logger.WithFields(log.Fields{
		"file":      prog.Name,
		"kept":      prog.Len(),
		"discarded": prog.Discarded,
	}).Info("program loaded")

	registry := metrics.NewRegistry()
	pm := metrics.NewPrintMetrics(registry)

	var srv *status.Server
	if listenAddr != "" {
		srv = status.New(status.Config{
			Addr:     listenAddr,
			Registry: registry,
			Metrics:  pm,
			Logger:   logger.WithPrefix("status"),
		})
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("status server stopped")
			}
		}()
		guard.OnShutdown(func() { _ = srv.Stop() })
	}

	var lastSnap printer.Snapshot
	driver := printer.New(conn, prog, printer.Config{
		PollInterval:    pollInterval,
		RefreshInterval: refreshInterval,
		ReadTimeout:     readTimeout,
		Logger:          logger,
		OnSnapshot: func(snap printer.Snapshot) {
			lastSnap = snap
			if screen != nil {
				screen.Render(snap)
			}
			if srv != nil {
				srv.Publish(snap)
			}
			pm.RecordProgress(snap.Job.Sent, snap.Job.Acked, snap.Job.Polls,
				snap.Job.Index, snap.Job.Total, snap.Job.Elapsed)
			pm.RecordTemperatures(snap.Temps.Extruder, snap.Temps.ExtruderTarget,
				snap.Temps.Bed, snap.Temps.BedTarget)
			pm.RecordStatus(string(snap.Status))
		},
	})

	banner, err := driver.Hello(context.Background(), helloTimeout)
	if err != nil {
		logger.WithError(err).Warn("printer did not identify itself")
	} else if banner != "" {
		fmt.Printf("Printer responds: %s\n", banner)
	}

	startTime := time.Now()
	total, err := driver.Run(context.Background())
	if err != nil {
		if srv != nil {
			srv.RecordJob(status.JobRecord{
				ID:           driver.JobID(),
				File:         prog.Name,
				Status:       status.JobFailed,
				Error:        err.Error(),
				StartTime:    float64(startTime.Unix()),
				Duration:     total.Seconds(),
				Instructions: lastSnap.Job.Acked,
			})
		}
		logger.WithError(err).Error("print failed")
		// The printer may be mid-heat; run the cooldown before closing. The
		// shutdown callbacks clear the fullscreen display, so print the error
		// after them or it would be wiped.
		guard.Shutdown()
		fmt.Fprintf(os.Stderr, "Print failed: %v\n", err)
		os.Exit(1)
	}

	guard.Disarm()
	if srv != nil {
		srv.RecordJob(status.JobRecord{
			ID:           driver.JobID(),
			File:         prog.Name,
			Status:       status.JobCompleted,
			StartTime:    float64(startTime.Unix()),
			Duration:     total.Seconds(),
			Instructions: prog.Len(),
		})
	}
	_ = guard.Close()
	if screen != nil {
		screen.Finish(total)
	} else {
		fmt.Printf("Print finished in %s\n", display.FormatDuration(total))
	}
}

// pickString resolves one setting: flag when set, then environment, then the
// config file, then the fallback. A nil section skips the config layer.
func pickString(flagSet bool, flagVal, envKey string, sec *config.Section, option, fallback string) string {
	if flagSet {
		return flagVal
	}
	if v, ok := os.LookupEnv(envKey); ok {
		return v
	}
	if sec == nil {
		return fallback
	}
	v, _ := sec.Get(option, fallback)
	return v
}

func pickInt(flagSet bool, flagVal int, envKey string, sec *config.Section, option string, fallback int) int {
	if flagSet {
		return flagVal
	}
	if v, ok := os.LookupEnv(envKey); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			fatalf("Invalid %s: %q", envKey, v)
		}
		return n
	}
	n, err := sec.GetInt(option, fallback)
	if err != nil {
		fatalf("Error in config: %v", err)
	}
	return n
}

func pickDuration(sec *config.Section, option string, fallback time.Duration) time.Duration {
	d, err := sec.GetDuration(option, fallback)
	if err != nil {
		fatalf("Error in config: %v", err)
	}
	return d
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// waitForPrinter scans for serial devices until at least one appears, then
// returns the user's choice when there are several.
func waitForPrinter() string {
	ports, err := serial.ListPorts()
	if err == nil && len(ports) > 0 {
		return pickPort(ports)
	}
	fmt.Println("Printer port not found, is your printer connected?")
	fmt.Println("Waiting for printer...")
	for {
		time.Sleep(time.Second)
		ports, err = serial.ListPorts()
		if err == nil && len(ports) > 0 {
			return pickPort(ports)
		}
	}
}

func pickPort(ports []string) string {
	if len(ports) == 1 {
		return ports[0]
	}
	fmt.Println("Multiple serial devices found")
	for i, p := range ports {
		fmt.Printf("%d: %s\n", i+1, p)
	}
	in := bufio.NewReader(os.Stdin)
	for {
		text, err := in.ReadString('\n')
		if err != nil {
			fatalf("Error reading selection: %v", err)
		}
		choice, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			fmt.Println("Please input a number")
			continue
		}
		if choice < 1 {
			fmt.Println("Number must be positive")
			continue
		}
		if choice > len(ports) {
			fmt.Printf("Number must be between 1 and %d\n", len(ports))
			continue
		}
		return ports[choice-1]
	}
}

func promptForFile() string {
	in := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Input GCode file path: ")
		text, err := in.ReadString('\n')
		if err != nil {
			fatalf("Error reading path: %v", err)
		}
		path := strings.TrimSpace(text)
		if path == "" {
			fmt.Println("File not found")
			continue
		}
		fi, err := os.Stat(path)
		if err != nil || fi.IsDir() {
			fmt.Println("File not found")
			continue
		}
		fmt.Println("Reading file to memory")
		return path
	}
}

// openDevice opens a serial device, or a unix socket when the path points at
// one (the mock printer listens on a socket).
func openDevice(device string, baud int, readTimeout time.Duration) (*serial.Port, error) {
	if fi, err := os.Stat(device); err == nil && fi.Mode()&os.ModeSocket != 0 {
		return serial.OpenSocket(device, readTimeout)
	}
	cfg := serial.DefaultConfig()
	cfg.Device = device
	cfg.BaudRate = baud
	cfg.ReadTimeout = readTimeout
	return serial.Open(cfg)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
