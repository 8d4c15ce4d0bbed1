// ABOUTME: Terminal dashboard lifecycle around the bubbletea program
// ABOUTME: Pumps model changes into the running UI and surfaces quit requests
package ui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/armintoepfer/solo/internal/zone"
)

// Dashboard runs the optional terminal status display.
type Dashboard struct {
	core    *zone.Core
	refresh func()
	program *tea.Program

	quit     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDashboard creates the dashboard. refresh triggers a discovery scan
// and may be nil.
func NewDashboard(core *zone.Core, refresh func()) *Dashboard {
	return &Dashboard{
		core:    core,
		refresh: refresh,
		quit:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Run blocks until the user quits or Stop is called.
func (d *Dashboard) Run() error {
	d.program = tea.NewProgram(
		newModel(d.core.Snapshot(), d.refresh, d.quit),
		tea.WithAltScreen(),
	)

	d.wg.Add(1)
	go d.pump()

	_, err := d.program.Run()
	d.stopPump()
	return err
}

// Stop ends the UI from outside, e.g. on SIGTERM.
func (d *Dashboard) Stop() {
	if d.program != nil {
		d.program.Quit()
	}
	d.stopPump()
}

// QuitChan signals once when the user asks to quit from the keyboard.
func (d *Dashboard) QuitChan() <-chan struct{} {
	return d.quit
}

func (d *Dashboard) pump() {
	defer d.wg.Done()

	deltas, cancel := d.core.Watch(64)
	defer cancel()

	for {
		select {
		case <-d.stop:
			return
		case <-deltas:
			// Rendering always uses a fresh full snapshot; a lossy
			// delta channel then costs nothing but a repaint.
			d.program.Send(snapshotMsg(d.core.Snapshot()))
		}
	}
}

func (d *Dashboard) stopPump() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.wg.Wait()
}
