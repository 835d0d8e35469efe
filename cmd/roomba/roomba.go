package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/api"
	"github.com/AaronTheNerd/csce274-project1/internal/config"
	"github.com/AaronTheNerd/csce274-project1/internal/db"
	"github.com/AaronTheNerd/csce274-project1/internal/eventlog"
	"github.com/AaronTheNerd/csce274-project1/internal/monitoring"
	"github.com/AaronTheNerd/csce274-project1/internal/serialmux"
	"github.com/AaronTheNerd/csce274-project1/internal/version"
)

// Behaviours the -behaviour flag accepts.
const (
	behaviourIdle       = "idle"
	behaviourPolygon    = "polygon"
	behaviourCruise     = "cruise"
	behaviourWallFollow = "wallfollow"
)

var behaviours = []string{behaviourIdle, behaviourPolygon, behaviourCruise, behaviourWallFollow}

type flags struct {
	dev        bool
	verbose    bool
	version    bool
	configPath string
	port       string
	dbPath     string
	csvPath    string
	listen     string
	behaviour  string
	sides      int
	perimeter  float64

	// names of the flags given on the command line
	set map[string]bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*flags, error) {
	f := &flags{}
	fs.BoolVar(&f.dev, "dev", false, "Run against a simulated robot instead of a serial port")
	fs.BoolVar(&f.verbose, "verbose", false, "Log every frame and command")
	fs.BoolVar(&f.version, "version", false, "Print the version and exit")
	fs.StringVar(&f.configPath, "config", "", "Robot config JSON (default "+config.DefaultConfigPath+" when present)")
	fs.StringVar(&f.port, "port", "", "Serial port to use (ignored in dev mode)")
	fs.StringVar(&f.dbPath, "db", "", "Event database path; overrides db_path")
	fs.StringVar(&f.csvPath, "csv", "", "Append events to this CSV file; overrides csv_path")
	fs.StringVar(&f.listen, "listen", "", "HTTP listen address; overrides listen")
	fs.StringVar(&f.behaviour, "behaviour", behaviourIdle, "One of idle, polygon, cruise, wallfollow")
	fs.IntVar(&f.sides, "sides", 0, "Polygon sides; overrides polygon_sides")
	fs.Float64Var(&f.perimeter, "perimeter", 0, "Polygon perimeter in metres; overrides polygon_perimeter")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.set = make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	if !slices.Contains(behaviours, f.behaviour) {
		return nil, fmt.Errorf("unknown behaviour %q, want one of %v", f.behaviour, behaviours)
	}
	return f, nil
}

// apply copies explicitly given flags over cfg and validates the result.
func (f *flags) apply(cfg *config.RobotConfig) error {
	if f.set["port"] {
		cfg.Port = &f.port
	}
	if f.set["db"] {
		cfg.DBPath = &f.dbPath
	}
	if f.set["csv"] {
		cfg.CSVPath = &f.csvPath
	}
	if f.set["listen"] {
		cfg.Listen = &f.listen
	}
	if f.set["sides"] {
		cfg.PolygonSides = &f.sides
	}
	if f.set["perimeter"] {
		cfg.PolygonPerimeter = &f.perimeter
	}
	return cfg.Validate()
}

func loadConfig(path string) (*config.RobotConfig, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadConfig(config.DefaultConfigPath)
	}
	return config.EmptyRobotConfig(), nil
}

func openSerial(f *flags, cfg *config.RobotConfig) (serialmux.SerialMuxInterface, error) {
	muxOpts, err := cfg.MuxOptions()
	if err != nil {
		return nil, err
	}
	if f.dev {
		return serialmux.NewSerialMux(serialmux.NewSimulatedRobot(nil), muxOpts), nil
	}
	m, err := serialmux.NewRealSerialMux(cfg.GetPort(), cfg.PortOptions(), muxOpts)
	if err != nil {
		if ports, lerr := serialmux.ListPorts(); lerr == nil {
			log.Printf("available serial ports: %v", ports)
		}
		return nil, err
	}
	return m, nil
}

// Main
func main() {
	f, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if f.version {
		fmt.Println(version.String())
		return
	}
	monitoring.SetVerbose(f.verbose)

	cfg, err := loadConfig(f.configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := f.apply(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	robotSerial, err := openSerial(f, cfg)
	if err != nil {
		log.Fatalf("failed to open robot port: %v", err)
	}
	defer robotSerial.Close()

	if err := robotSerial.Initialize(cfg.GetMode()); err != nil {
		log.Fatalf("failed to initialize robot: %v", err)
	}
	log.Printf("initialized robot in %s mode (dev=%v)", cfg.GetMode(), f.dev)

	var store *db.DB
	if path := cfg.GetDBPath(); path != "" {
		store, err = db.NewDB(path)
		if err != nil {
			log.Fatalf("failed to open event database: %v", err)
		}
		defer store.Close()
	}

	var csvSink *eventlog.CSVSink
	if path := cfg.GetCSVPath(); path != "" {
		fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Fatalf("failed to open event csv: %v", err)
		}
		csvSink = eventlog.NewCSVSink(fh)
		defer csvSink.Close()
	}

	rb, err := newRobot(robotSerial, cfg, store, csvSink, f.behaviour)
	if err != nil {
		log.Fatalf("failed to set up %s: %v", f.behaviour, err)
	}

	// Create a wait group for the HTTP server, serial monitor, event log and
	// behaviour routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port; without it
	// nothing else can run safely, so its exit shuts everything down
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer stop()
		if err := robotSerial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rb.watch(ctx)
		log.Print("event log routine terminated")
	}()

	if f.behaviour != behaviourIdle {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer stop()
			outcome, err := rb.run(ctx)
			if err != nil {
				log.Printf("%s failed: %v", f.behaviour, err)
				return
			}
			log.Printf("%s finished: %s", f.behaviour, outcome)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(robotSerial, store, rb.cmdr, cfg).ServeMux()
		robotSerial.AttachAdminRoutes(mux)
		if store != nil {
			store.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
