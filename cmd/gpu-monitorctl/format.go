package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cptspacemanspiff/gpu-power-monitor/internal/report"
	"github.com/cptspacemanspiff/gpu-power-monitor/internal/worker"
)

func printEnvelope(w io.Writer, env *worker.Envelope) {
	fmt.Fprintf(w, "status:  %s\n", env.Status)
	fmt.Fprintf(w, "control: %s\n", env.Control)
	if env.Stats == nil {
		fmt.Fprintln(w, "stats:   unavailable")
		return
	}
	s := env.Stats
	fmt.Fprintf(w, "temp:    %d C\n", s.TemperatureC)
	fmt.Fprintf(w, "power:   %.1f W (%s)\n", s.PowerWatts, s.PState)
	fmt.Fprintf(w, "util:    gpu %d%%, mem %d%%\n", s.UtilGPU, s.UtilMemory)
	fmt.Fprintf(w, "vram:    %d / %d MB\n", s.VRAMUsedMB, s.VRAMTotalMB)

	if len(env.Processes) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tMEM(MB)\tNAME\tCMDLINE")
	for _, p := range env.Processes {
		name := p.Name
		if p.Ghost {
			name += " (ghost)"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", p.PID, p.UsedMemoryMB, name, p.Cmdline)
	}
	tw.Flush()
}

func printEvents(w io.Writer, events []report.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no commands recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tTARGET\tRESULT")
	for _, e := range events {
		result := "ok"
		if !e.OK {
			result = "error: " + e.Error
		}
		ts := time.Unix(e.Timestamp, 0).Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ts, e.Kind, e.Target, result)
	}
	tw.Flush()
}
