package job

import (
	"fmt"
	"sync"
	"time"
)

// Defaults are the canonical per-type settings.
type Defaults struct {
	Type       Type          `json:"type"`
	Interval   int           `json:"interval"` // minutes
	Priority   Priority      `json:"priority"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`
}

// DefaultActiveType is the only type armed on a fresh install.
const DefaultActiveType = CustomerSync

// DefaultsFor returns the built-in defaults for t.
// Critical sync types get a higher retry ceiling than the rest.
func DefaultsFor(t Type) (Defaults, error) {
	switch t {
	case OrderSync:
		return Defaults{Type: t, Interval: 15, Priority: PriorityHigh, MaxRetries: 3, Timeout: 5 * time.Minute}, nil
	case CustomerSync:
		return Defaults{Type: t, Interval: 60, Priority: PriorityMedium, MaxRetries: 2, Timeout: 10 * time.Minute}, nil
	case InventorySync:
		return Defaults{Type: t, Interval: 30, Priority: PriorityMedium, MaxRetries: 3, Timeout: 5 * time.Minute}, nil
	case OnlineOrderSync:
		return Defaults{Type: t, Interval: 5, Priority: PriorityCritical, MaxRetries: 5, Timeout: 2 * time.Minute}, nil
	case POSOrderSync:
		return Defaults{Type: t, Interval: 5, Priority: PriorityCritical, MaxRetries: 5, Timeout: 2 * time.Minute}, nil
	default:
		return Defaults{}, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
}

// Override adjusts canonical values for one type. Zero values keep the built-in default.
// Priority is deliberately absent: it is fixed by type.
type Override struct {
	Interval   int
	MaxRetries *int
	Timeout    time.Duration
}

// Catalog holds the effective canonical settings for every type.
// It is safe for concurrent use; Apply swaps the whole table at once.
type Catalog struct {
	mu            sync.RWMutex
	defaults      map[Type]Defaults
	defaultActive Type
}

func DefaultCatalog() *Catalog {
	c, _ := NewCatalog("", nil)
	return c
}

func NewCatalog(defaultActive Type, overrides map[Type]Override) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Apply(defaultActive, overrides); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply rebuilds the table from built-in defaults plus overrides.
// On error the previous table is kept.
func (c *Catalog) Apply(defaultActive Type, overrides map[Type]Override) error {
	if defaultActive == "" {
		defaultActive = DefaultActiveType
	}
	if !defaultActive.Valid() {
		return fmt.Errorf("default active: %w: %q", ErrUnknownType, string(defaultActive))
	}
	table := make(map[Type]Defaults, len(AllTypes()))
	for _, t := range AllTypes() {
		d, err := DefaultsFor(t)
		if err != nil {
			return err
		}
		table[t] = d
	}
	for t, o := range overrides {
		d, ok := table[t]
		if !ok {
			return fmt.Errorf("override: %w: %q", ErrUnknownType, string(t))
		}
		if o.Interval < 0 {
			return fmt.Errorf("%s: interval must be > 0", t)
		}
		if o.Interval > 0 {
			d.Interval = o.Interval
		}
		if o.MaxRetries != nil {
			if *o.MaxRetries < 0 {
				return fmt.Errorf("%s: max_retries must be >= 0", t)
			}
			d.MaxRetries = *o.MaxRetries
		}
		if o.Timeout > 0 {
			d.Timeout = o.Timeout
		}
		table[t] = d
	}

	c.mu.Lock()
	c.defaults = table
	c.defaultActive = defaultActive
	c.mu.Unlock()
	return nil
}

func (c *Catalog) Lookup(t Type) (Defaults, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defaults[t]
	return d, ok
}

func (c *Catalog) DefaultActive() Type {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultActive
}

// ShouldBeActive reports the canonical active flag for t.
func (c *Catalog) ShouldBeActive(t Type) bool { return t == c.DefaultActive() }

// Intervals returns the canonical interval per type.
func (c *Catalog) Intervals() map[Type]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[Type]int, len(c.defaults))
	for t, d := range c.defaults {
		out[t] = d.Interval
	}
	return out
}

// NewSchedule builds the canonical schedule record for t.
func (c *Catalog) NewSchedule(t Type, now time.Time) (Schedule, error) {
	d, ok := c.Lookup(t)
	if !ok {
		return Schedule{}, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
	return Schedule{
		Type:       t,
		Interval:   d.Interval,
		IsActive:   c.ShouldBeActive(t),
		Priority:   d.Priority,
		MaxRetries: d.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Drift returns the patch needed to bring s back to canonical interval and active flag,
// and whether anything drifted.
func (c *Catalog) Drift(s Schedule) (SchedulePatch, bool) {
	d, ok := c.Lookup(s.Type)
	if !ok {
		return SchedulePatch{}, false
	}
	var p SchedulePatch
	if s.Interval != d.Interval {
		p.Interval = Ptr(d.Interval)
	}
	if want := c.ShouldBeActive(s.Type); s.IsActive != want {
		p.IsActive = Ptr(want)
	}
	return p, !p.IsEmpty()
}
