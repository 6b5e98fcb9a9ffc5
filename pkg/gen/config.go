package gen

import (
	"sort"

	"github.com/chainsafe/cubist/pkg/analyzer"
)

// interfaceConfig decides which contracts and functions get interfaces. It
// runs in one of two modes: analyzed, where only the functions the analyzer
// saw called across chains are included, and explicit, where every
// exposable function of one contract is.
type interfaceConfig struct {
	explicit bool

	// explicit mode
	contract string
	file     string
	targets  []analyzer.InterfaceTarget

	// analyzed mode
	calls            map[string][]string
	interfaceTargets map[string][]analyzer.InterfaceTarget
}

func analyzedConfig(a *analyzer.Analyzer) *interfaceConfig {
	return &interfaceConfig{
		calls:            a.Calls(),
		interfaceTargets: a.InterfaceTargets(),
	}
}

func explicitConfig(file, contract string, targets []analyzer.InterfaceTarget) *interfaceConfig {
	return &interfaceConfig{explicit: true, file: file, contract: contract, targets: targets}
}

func (c *interfaceConfig) exposeAll() bool { return c.explicit }

// sourceFiles returns the callee files needing interfaces, sorted.
func (c *interfaceConfig) sourceFiles() []string {
	if c.explicit {
		return []string{c.file}
	}
	files := make([]string, 0, len(c.interfaceTargets))
	for f := range c.interfaceTargets {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (c *interfaceConfig) targetsFor(file string) []analyzer.InterfaceTarget {
	if c.explicit {
		if file == c.file {
			return c.targets
		}
		return nil
	}
	return c.interfaceTargets[file]
}

func (c *interfaceConfig) genContract(contract string) bool {
	if c.explicit {
		return contract == c.contract
	}
	_, ok := c.calls[contract]
	return ok
}

func (c *interfaceConfig) genFunction(contract, fn string) bool {
	if c.explicit {
		return contract == c.contract
	}
	for _, f := range c.calls[contract] {
		if f == fn {
			return true
		}
	}
	return false
}

// missedFunction returns a function requested for contract that is not in
// seen.
func (c *interfaceConfig) missedFunction(contract string, seen []string) (string, bool) {
	if c.explicit {
		return "", false
	}
	have := map[string]bool{}
	for _, s := range seen {
		have[s] = true
	}
	for _, fn := range c.calls[contract] {
		if !have[fn] {
			return fn, true
		}
	}
	return "", false
}
