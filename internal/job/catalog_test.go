package job

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultsCoverEveryType(t *testing.T) {
	for _, typ := range AllTypes() {
		d, err := DefaultsFor(typ)
		if err != nil {
			t.Fatalf("DefaultsFor(%s): %v", typ, err)
		}
		if d.Interval <= 0 {
			t.Fatalf("%s: interval = %d", typ, d.Interval)
		}
		if d.Priority.Rank() == 0 {
			t.Fatalf("%s: priority %q has no rank", typ, d.Priority)
		}
	}
	if _, err := DefaultsFor("refund_sync"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestCriticalTypesRetryMore(t *testing.T) {
	c := DefaultCatalog()
	crit, _ := c.Lookup(OnlineOrderSync)
	med, _ := c.Lookup(CustomerSync)
	if crit.Priority != PriorityCritical {
		t.Fatalf("online_order_sync priority = %s", crit.Priority)
	}
	if crit.MaxRetries <= med.MaxRetries {
		t.Fatalf("critical max retries %d should exceed %d", crit.MaxRetries, med.MaxRetries)
	}
}

func TestCatalogApplyOverrides(t *testing.T) {
	c, err := NewCatalog(OrderSync, map[Type]Override{
		InventorySync: {Interval: 45, MaxRetries: Ptr(0), Timeout: time.Minute},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	d, _ := c.Lookup(InventorySync)
	if d.Interval != 45 || d.MaxRetries != 0 || d.Timeout != time.Minute {
		t.Fatalf("override not applied: %+v", d)
	}
	if !c.ShouldBeActive(OrderSync) || c.ShouldBeActive(CustomerSync) {
		t.Fatalf("default active not applied")
	}

	// A bad override keeps the previous table.
	if err := c.Apply(CustomerSync, map[Type]Override{"bogus": {Interval: 1}}); err == nil {
		t.Fatalf("expected error for unknown override type")
	}
	if c.DefaultActive() != OrderSync {
		t.Fatalf("table replaced after failed Apply")
	}
}

func TestCatalogDrift(t *testing.T) {
	c := DefaultCatalog()
	s, err := c.NewSchedule(OrderSync, time.Now())
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if _, drifted := c.Drift(s); drifted {
		t.Fatalf("fresh schedule should not drift")
	}

	s.Interval = 1
	s.IsActive = true
	p, drifted := c.Drift(s)
	if !drifted {
		t.Fatalf("expected drift")
	}
	fixed := p.ApplyTo(s)
	if fixed.Interval != 15 || fixed.IsActive {
		t.Fatalf("drift patch did not restore canonical values: %+v", fixed)
	}
}

func TestParsePriorityAndRank(t *testing.T) {
	p, err := ParsePriority(" Critical ")
	if err != nil || p != PriorityCritical {
		t.Fatalf("ParsePriority = %q, %v", p, err)
	}
	if !(PriorityCritical.Rank() > PriorityHigh.Rank() && PriorityHigh.Rank() > PriorityMedium.Rank() && PriorityMedium.Rank() > PriorityLow.Rank()) {
		t.Fatalf("rank order broken")
	}
	if _, err := ParsePriority("urgent"); !errors.Is(err, ErrUnknownPriority) {
		t.Fatalf("expected ErrUnknownPriority, got %v", err)
	}
}

func TestNoRetryUnwraps(t *testing.T) {
	base := errors.New("bad payload")
	err := NoRetry(base)
	if !IsNoRetry(err) || !errors.Is(err, base) {
		t.Fatalf("NoRetry lost its cause: %v", err)
	}
	if NoRetry(nil) != nil {
		t.Fatalf("NoRetry(nil) should be nil")
	}
}
