// ABOUTME: Diagnostic CLI that tails a solo daemon's event feed
// ABOUTME: Prints the current zone layout, then streams changes as they happen
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/armintoepfer/solo/pkg/solo"
)

var (
	daemonAddr = flag.String("daemon", "localhost:8080", "solo daemon host:port")
	scan       = flag.Bool("scan", false, "trigger a discovery pass before watching")
)

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime)

	client := solo.NewClient(solo.Config{Addr: *daemonAddr})
	ctx := context.Background()

	health, err := client.Health(ctx)
	if err != nil {
		log.Fatalf("daemon %s unreachable: %v", *daemonAddr, err)
	}
	fmt.Printf("solo %s at %s, %d devices, generation %d\n",
		health.Version, *daemonAddr, health.Devices, health.Generation)

	if *scan {
		if _, err := client.Discover(ctx); err != nil {
			log.Fatalf("discover failed: %v", err)
		}
		fmt.Println("discovery pass triggered")
	}

	watcher, err := client.Watch(ctx)
	if err != nil {
		log.Fatalf("event feed failed: %v", err)
	}
	defer watcher.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				if err := watcher.Err(); err != nil {
					log.Fatalf("event feed lost: %v", err)
				}
				fmt.Println("daemon closed the feed")
				return
			}
			printEvent(ev)
		case <-sigChan:
			fmt.Println("\nbye")
			return
		}
	}
}

func printEvent(ev solo.Event) {
	switch ev.Type {
	case solo.EventHello:
		if ev.Snapshot == nil {
			return
		}
		fmt.Printf("snapshot generation %d\n", ev.Snapshot.Generation)
		names := make(map[string]string, len(ev.Snapshot.Devices))
		for _, d := range ev.Snapshot.Devices {
			names[d.ID] = d.Name
		}
		for _, g := range ev.Snapshot.Groups {
			fmt.Printf("  %s\n", describeGroup(g, names))
		}
	case solo.EventDelta:
		if ev.Delta == nil {
			return
		}
		log.Printf("gen %d %s%s", ev.Delta.Generation, ev.Delta.Kind, describeDelta(*ev.Delta))
	default:
		log.Printf("unknown event type %q", ev.Type)
	}
}

func describeDelta(d solo.Delta) string {
	var parts []string
	for _, dev := range d.Devices {
		parts = append(parts, fmt.Sprintf("%s (%s)", dev.Name, dev.ID))
	}
	for _, g := range d.Groups {
		parts = append(parts, describeGroup(g, nil))
	}
	for _, id := range d.Removed {
		parts = append(parts, "removed "+id)
	}
	if len(parts) == 0 {
		return ""
	}
	return ": " + strings.Join(parts, ", ")
}

func describeGroup(g solo.Group, names map[string]string) string {
	coordinator := g.Coordinator
	if name, ok := names[g.Coordinator]; ok && name != "" {
		coordinator = name
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s]", coordinator, g.State)
	if g.Track != nil && g.Track.Title != "" {
		fmt.Fprintf(&sb, " %q", g.Track.Title)
		if g.Track.Duration > 0 {
			fmt.Fprintf(&sb, " %s/%s", clock(g.Track.Position), clock(g.Track.Duration))
		}
	}
	if len(g.Members) > 1 {
		fmt.Fprintf(&sb, " +%d members", len(g.Members)-1)
	}
	volumes := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		v := fmt.Sprintf("%d", m.Volume)
		if m.Muted {
			v += "m"
		}
		volumes = append(volumes, v)
	}
	if len(volumes) > 0 {
		fmt.Fprintf(&sb, " vol %s", strings.Join(volumes, "/"))
	}
	return sb.String()
}

func clock(seconds int) string {
	d := time.Duration(seconds) * time.Second
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
