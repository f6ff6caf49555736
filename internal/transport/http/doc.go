// Package http implements the HTTP handlers of the MindWell API. Handlers
// are thin: they decode and validate requests, call a service and render the
// result. Errors are returned to the terminal error middleware through
// errors.Handle, which renders them as RFC 7807 problem responses.
//
// Each route group implements Mountable so the application router can mount
// it without knowing its routes:
//
//	for _, m := range mounts {
//	    r.Mount(m.MountPath(), m.Routes())
//	}
//
// The chat stream endpoint upgrades to a WebSocket and subscribes the
// connection to the session's topic on the hub.
package http
