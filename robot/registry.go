package robot

import (
	"fmt"
	"sync"
)

// Driver constructs a Robot for one robot.type CLI value (spec §6
// `--robot.type`). port and id are passed through from RobotConfig
// unchanged; concrete drivers interpret them as a serial port, network
// address, bus id, or whatever else fits the hardware.
type Driver func(port, id string) (Robot, error)

var (
	driversMu sync.Mutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver registers a Driver under name, so that cmd/rtc-run and the
// networked cmd/rtc-client can construct a Robot from a plain --robot.type
// string without depending on any concrete driver package directly,
// mirroring the teacher's query.RegisterProvider registration hook
// (server/query/provider.go), generalized from a single registered provider
// to a name-keyed map since multiple robot types must coexist in the same
// binary. Intended to be called from a driver package's init().
func RegisterDriver(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = d
}

// NewDriver constructs a Robot using the Driver registered under name.
func NewDriver(name, port, id string) (Robot, error) {
	driversMu.Lock()
	d, ok := drivers[name]
	driversMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("robot: no driver registered for type %q", name)
	}
	return d(port, id)
}
