package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/temoto/penlok/cmd/penlok/hwcli"
	"github.com/temoto/penlok/cmd/penlok/kiosk"
	"github.com/temoto/penlok/cmd/penlok/subcmd"
	"github.com/temoto/penlok/internal/state"
	state_new "github.com/temoto/penlok/internal/state/new"
	"github.com/temoto/penlok/internal/tele"
	"github.com/temoto/penlok/log2"
)

var log = log2.NewStderr(log2.LDebug)

// set by ldflags -X main.BuildVersion
var BuildVersion = "unknown"

var modules = []subcmd.Mod{
	kiosk.Mod,
	hwcli.Mod,
}

func main() {
	flagset := flag.NewFlagSet("penlok", flag.ExitOnError)
	flagConfig := flagset.String("config", "penlok.hcl", "")
	flagEnv := flagset.String("env", ".env", "database settings, missing file is ok")
	flagVersion := flagset.Bool("version", false, "print build version and exit")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: %s [option] [command]\n\nOptions:\n", flagset.Name())
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "\nCommands (default %s):\n", kiosk.Mod.Name)
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %s\n", m.Name)
		}
	}
	_ = flagset.Parse(os.Args[1:])
	if *flagVersion {
		fmt.Printf("penlok %s\n", BuildVersion)
		return
	}

	command := flagset.Arg(0)
	if command == "" {
		command = kiosk.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd assume journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	if err := godotenv.Load(*flagEnv); err != nil && !os.IsNotExist(err) {
		log.Errorf("dotenv file=%s err=%v", *flagEnv, err)
	}

	ctx, g := state_new.NewContext(log, tele.New())
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if err := mod.Main(ctx, config); err != nil {
		g.Fatal(err)
	}
}
