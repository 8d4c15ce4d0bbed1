// ABOUTME: Public client library for the solo daemon
// ABOUTME: Provides typed access to the HTTP API and the websocket event feed
// Package solo is the client library for a running solo daemon.
//
// A Client wraps the daemon's HTTP API: snapshots, commands, discovery,
// and health. Watch opens the websocket event feed and delivers the
// hello snapshot followed by live deltas.
//
// Example:
//
//	client := solo.NewClient(solo.Config{Addr: "10.0.0.2:1400"})
//	snap, err := client.Snapshot(ctx)
//	err = client.SetVolume(ctx, "RINCON_000E58AA", 30)
//
// Example watch:
//
//	w, err := client.Watch(ctx)
//	defer w.Close()
//	for ev := range w.Events {
//	    ...
//	}
//
// Failed API calls return *Error carrying the daemon's error kind:
//
//	var apiErr *solo.Error
//	if errors.As(err, &apiErr) && apiErr.Kind == solo.KindNotFound {
//	    ...
//	}
package solo
