package strategy

import (
	"fmt"
	"sort"
)

// Factory builds a strategy from fully-merged parameters.
type Factory func(p Params) (Strategy, error)

// Entry describes one registered strategy.
type Entry struct {
	Name        string
	Description string
	Defaults    Params
	Factory     Factory
}

// Registry maps strategy names to constructors. Populate it once at startup
// (BuildDefaultRegistry) and treat it as read-only afterwards.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds an entry. Duplicate names are rejected.
func (r *Registry) Register(e Entry) error {
	if e.Name == "" || e.Factory == nil {
		return fmt.Errorf("strategy registry: entry needs name and factory")
	}
	if _, dup := r.entries[e.Name]; dup {
		return fmt.Errorf("strategy registry: %q already registered", e.Name)
	}
	r.entries[e.Name] = e
	return nil
}

// Build instantiates the named strategy with params layered over its defaults.
func (r *Registry) Build(name string, params Params) (Strategy, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownStrategy, name, r.Names())
	}
	return e.Factory(e.Defaults.Merge(params))
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Entries returns all entries sorted by name.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, n := range r.Names() {
		out = append(out, r.entries[n])
	}
	return out
}

// BuildDefaultRegistry returns a registry holding the built-in strategies.
func BuildDefaultRegistry() *Registry {
	r := NewRegistry()
	must(r.Register(Entry{
		Name:        SMACrossoverName,
		Description: "Simple Moving Average crossover",
		Defaults:    Params{"fast_period": 5, "slow_period": 20, "rsi_period": 0, "rsi_overbought": 70, "rsi_oversold": 30},
		Factory: func(p Params) (Strategy, error) {
			s, err := newSMACrossover(p)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}))
	must(r.Register(Entry{
		Name:        RSIThresholdName,
		Description: "RSI oversold/overbought threshold oscillator",
		Defaults:    Params{"rsi_period": 14, "oversold": 30, "overbought": 70},
		Factory: func(p Params) (Strategy, error) {
			s, err := newRSIThreshold(p)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}))
	return r
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
