package main

// ofrouter is a reactive openflow 1.3 controller that learns host
// locations and programs mac flows on the switches

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/EvgenyEmets/Routing/ofrouter/api"
	"github.com/EvgenyEmets/Routing/ofrouter/common"
	"github.com/EvgenyEmets/Routing/ofrouter/routing"
	"github.com/EvgenyEmets/Routing/pkg/eventbus"
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"
	"github.com/EvgenyEmets/Routing/pkg/ovsdriver"

	log "github.com/sirupsen/logrus"
	flags "github.com/spf13/pflag"
)

// Apply command line overrides on top of the config file
func applyFlags(cfg *common.Config) {
	if flags.CommandLine.Changed("listen") {
		cfg.ListenAddr, _ = flags.CommandLine.GetString("listen")
	}
	if flags.CommandLine.Changed("api") {
		cfg.ApiAddr, _ = flags.CommandLine.GetString("api")
	}
	if flags.CommandLine.Changed("ovs-bridge") {
		cfg.OvsBridge, _ = flags.CommandLine.GetString("ovs-bridge")
	}
	if flags.CommandLine.Changed("ovsdb") {
		cfg.OvsdbAddr, _ = flags.CommandLine.GetString("ovsdb")
	}
	if flags.CommandLine.Changed("log-level") {
		cfg.LogLevel, _ = flags.CommandLine.GetString("log-level")
	}
	if flags.CommandLine.Changed("packet-workers") {
		cfg.PacketWorkers, _ = flags.CommandLine.GetInt("packet-workers")
	}
}

// Point the local OVS bridge at this controller
func wireOvsBridge(cfg *common.Config) {
	target, err := ovsdriver.ControllerTarget(cfg.ListenAddr)
	if err != nil {
		log.Fatalf("Invalid listen address %s. Err: %v", cfg.ListenAddr, err)
	}

	driver, err := ovsdriver.NewOvsDriver(cfg.OvsdbAddr, cfg.OvsBridge)
	if err != nil {
		log.Fatalf("Error connecting to ovsdb %s. Err: %v", cfg.OvsdbAddr, err)
	}
	defer driver.Close()

	if err := driver.SetController(target); err != nil {
		log.Fatalf("Error setting controller on bridge %s. Err: %v", cfg.OvsBridge, err)
	}
}

func main() {
	defaults := common.DefaultConfig()

	configPath := flags.String("config", "", "YAML config file")
	flags.String("listen", defaults.ListenAddr, "OpenFlow listen address")
	flags.String("api", defaults.ApiAddr, "Status API listen address, empty to disable")
	flags.String("ovs-bridge", defaults.OvsBridge, "OVS bridge to connect to this controller")
	flags.String("ovsdb", defaults.OvsdbAddr, "OVSDB server address")
	flags.String("log-level", defaults.LogLevel, "Log level")
	flags.Int("packet-workers", defaults.PacketWorkers, "Concurrent packet-in handlers per switch")

	// glog flags for the ovsdb and fsm packages
	flags.CommandLine.AddGoFlagSet(flag.CommandLine)
	flags.Parse()
	flag.Lookup("logtostderr").Value.Set("true")

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Error loading config. Err: %v", err)
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config. Err: %v", err)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	// Create the routing app and hook it to the event bus
	bus := eventbus.New()
	app, err := routing.NewRouting(cfg.Routing)
	if err != nil {
		log.Fatalf("Error creating routing app. Err: %v", err)
	}
	app.Init(bus)

	// Create the controller
	ctrler := ofctrl.NewController(routing.NewPublisher(bus))
	ctrler.PacketWorkers = cfg.PacketWorkers

	if cfg.ApiAddr != "" {
		apiCtrler := api.NewApiController(app, api.ConnectedSwitches)
		go func() {
			if err := apiCtrler.ListenAndServe(cfg.ApiAddr); err != nil {
				log.Fatalf("Status API failed. Err: %v", err)
			}
		}()
	}

	if cfg.OvsBridge != "" {
		wireOvsBridge(cfg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("Received %v, shutting down", sig)
		ctrler.Close()
	}()

	if err := ctrler.Listen(cfg.ListenAddr); err != nil {
		log.Fatalf("Controller failed. Err: %v", err)
	}
}
