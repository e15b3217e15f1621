// Package notify implements the notification sink the alert manager drives:
// a WebSocket hub that assigns a handle per opened alert, pushes open/close
// transitions to connected desktop UI clients, and replays open alerts to
// clients as they connect. A small JSON endpoint lists the open alerts for
// UIs that poll before the stream is up.
package notify
