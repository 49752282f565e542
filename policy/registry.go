package policy

import (
	"fmt"
	"sync"
)

var (
	loadersMu sync.Mutex
	loaders   = make(map[string]Loader)
)

// RegisterLoader registers a Loader under policyType, so that cmd/rtc-run
// and cmd/rtc-server can construct a Policy from a plain policy-type string
// without depending on any concrete policy package directly (spec §7
// ConfigInvalid: "unsupported policy type; only specific chunking policies
// supported"). Mirrors robot.RegisterDriver's registry shape. Intended to be
// called from a policy package's init().
func RegisterLoader(policyType string, l Loader) {
	loadersMu.Lock()
	defer loadersMu.Unlock()
	loaders[policyType] = l
}

// Load constructs a Policy using the Loader registered under policyType,
// then moves it to device and puts it in eval mode (spec §6 "to(device)",
// "eval()").
func Load(policyType, path string, device Device) (Policy, error) {
	loadersMu.Lock()
	l, ok := loaders[policyType]
	loadersMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("policy: no loader registered for type %q", policyType)
	}
	pol, err := l(path, device)
	if err != nil {
		return nil, err
	}
	if err := pol.To(device); err != nil {
		return nil, err
	}
	pol.Eval()
	return pol, nil
}
