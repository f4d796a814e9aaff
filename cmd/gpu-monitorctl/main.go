package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/config"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/worker"
)

const usage = `usage: gpu-monitorctl [-bus system|session] <command>

commands:
  status              print the latest snapshot
  watch               print every snapshot as it is published
  power auto|on       set the runtime power control
  kill <pid>          forcefully terminate a GPU process
  history [hours]     list recorded commands (default 24h)
`

func main() {
	bus := flag.String("bus", config.BusSystem, "bus the daemon is registered on")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	client, err := newDBusClient(*bus)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if err := run(client, args); err != nil {
		log.Fatal(err)
	}
}

func run(client *dbusClient, args []string) error {
	switch args[0] {
	case "status":
		env, err := client.GetSnapshot()
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		printEnvelope(os.Stdout, env)

	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return client.Watch(ctx, func(env *worker.Envelope) {
			fmt.Printf("--- #%d %s\n", env.Seq, time.Unix(env.Timestamp, 0).Format(time.TimeOnly))
			printEnvelope(os.Stdout, env)
		})

	case "power":
		if len(args) != 2 {
			return fmt.Errorf("usage: power auto|on")
		}
		if err := client.SetPowerMode(args[1]); err != nil {
			return fmt.Errorf("set power mode: %w", err)
		}
		fmt.Printf("queued power mode %s\n", args[1])

	case "kill":
		if len(args) != 2 {
			return fmt.Errorf("usage: kill <pid>")
		}
		pid, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil || pid == 0 {
			return fmt.Errorf("invalid pid %q", args[1])
		}
		if err := client.KillProcess(uint32(pid)); err != nil {
			return fmt.Errorf("kill: %w", err)
		}
		fmt.Printf("queued kill %d\n", pid)

	case "history":
		hours := 24
		if len(args) > 1 {
			h, err := strconv.Atoi(args[1])
			if err != nil || h <= 0 {
				return fmt.Errorf("invalid hours %q", args[1])
			}
			hours = h
		}
		to := time.Now()
		from := to.Add(-time.Duration(hours) * time.Hour)
		events, err := client.GetCommandHistory(from, to)
		if err != nil {
			return fmt.Errorf("get history: %w", err)
		}
		printEvents(os.Stdout, events)

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
