package biometric

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Result is the outcome of an on-device prompt. Reason carries the platform's code
// (for example "user_cancel" or "lockout") when Success is false.
type Result struct {
	Success bool
	Reason  string
}

// Device is the platform biometric capability. Implementations wrap the native API;
// tests inject MockDevice.
type Device interface {
	HardwareAvailable(ctx context.Context) bool
	Enrolled(ctx context.Context) bool
	Authenticate(ctx context.Context, prompt string) (Result, error)
}

// Unsupported is the device for platforms without biometric hardware.
type Unsupported struct{}

func (Unsupported) HardwareAvailable(context.Context) bool { return false }

func (Unsupported) Enrolled(context.Context) bool { return false }

func (Unsupported) Authenticate(context.Context, string) (Result, error) {
	return Result{Success: false, Reason: "not_available"}, nil
}

// ConsoleDevice stands in for a sensor during local development: the prompt is
// printed and a "y" answer counts as a successful match.
type ConsoleDevice struct {
	in  *bufio.Reader
	out io.Writer
}

func NewConsoleDevice(in io.Reader, out io.Writer) *ConsoleDevice {
	return &ConsoleDevice{in: bufio.NewReader(in), out: out}
}

func (d *ConsoleDevice) HardwareAvailable(context.Context) bool { return true }

func (d *ConsoleDevice) Enrolled(context.Context) bool { return true }

func (d *ConsoleDevice) Authenticate(ctx context.Context, prompt string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	fmt.Fprintf(d.out, "%s [y/N]: ", prompt)
	line, err := d.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return Result{}, fmt.Errorf("read prompt answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Result{Success: true}, nil
	case "":
		return Result{Success: false, Reason: "user_cancel"}, nil
	default:
		return Result{Success: false, Reason: "authentication_failed"}, nil
	}
}
