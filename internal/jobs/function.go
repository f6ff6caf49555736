package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// NoRetries disables retries for a function
const NoRetries = -1

// Trigger selects what starts a function: an event name or a cron schedule
type Trigger struct {
	Event string `json:"event,omitempty"`
	Cron  string `json:"cron,omitempty"`
}

// Input is passed to a function handler
type Input struct {
	Event   Event
	RunID   string
	Attempt int
	Logger  *slog.Logger
}

// HandlerFunc performs a function's work. The returned value is recorded as
// the run output.
type HandlerFunc func(ctx context.Context, in Input) (any, error)

// FunctionOptions configures CreateFunction
type FunctionOptions struct {
	ID   string
	Name string
	// Retries is the number of extra attempts after a failure. Zero uses
	// the server default; NoRetries disables them.
	Retries int
}

// Function is a registered unit of background work
type Function struct {
	ID      string
	Name    string
	Trigger Trigger
	Retries int
	Handler HandlerFunc
}

// CreateFunction builds a Function
func CreateFunction(opts FunctionOptions, trigger Trigger, handler HandlerFunc) *Function {
	name := opts.Name
	if name == "" {
		name = opts.ID
	}
	return &Function{
		ID:      opts.ID,
		Name:    name,
		Trigger: trigger,
		Retries: opts.Retries,
		Handler: handler,
	}
}

func (f *Function) validate() error {
	if f.ID == "" {
		return errors.New("function id is required")
	}
	if f.Handler == nil {
		return fmt.Errorf("function %s: handler is required", f.ID)
	}
	if (f.Trigger.Event == "") == (f.Trigger.Cron == "") {
		return fmt.Errorf("function %s: exactly one of event or cron trigger is required", f.ID)
	}
	return nil
}

// maxAttempts resolves the retry policy against the server default
func (f *Function) maxAttempts(defaultRetries int) int {
	switch {
	case f.Retries == NoRetries:
		return 1
	case f.Retries > 0:
		return f.Retries + 1
	case defaultRetries > 0:
		return defaultRetries + 1
	default:
		return 1
	}
}

// FunctionConfig is the introspection view of a function
type FunctionConfig struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Triggers []Trigger `json:"triggers"`
	Retries  int       `json:"retries"`
}

func (f *Function) config(defaultRetries int) FunctionConfig {
	return FunctionConfig{
		ID:       f.ID,
		Name:     f.Name,
		Triggers: []Trigger{f.Trigger},
		Retries:  f.maxAttempts(defaultRetries) - 1,
	}
}
