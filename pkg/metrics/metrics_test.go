package metrics

import "testing"

func TestResettableCounterIncAndGet(t *testing.T) {
	c := newResettableCounter("test_counter", "test counter")

	c.Inc()
	c.Inc()
	c.Add(3)

	if got := c.Get(); got != 5 {
		t.Errorf("Get() = %d, want 5", got)
	}
}

func TestResettableCounterReset(t *testing.T) {
	c := newResettableCounter("test_counter_reset", "test counter")

	c.Add(42)
	c.Reset()

	if got := c.Get(); got != 0 {
		t.Errorf("Get() after Reset() = %d, want 0", got)
	}
}

func TestResetZeroesAllControlCounters(t *testing.T) {
	IncControlRequest()
	IncControlRequest()
	IncControlRequestFailed()
	IncAcceptTransient()
	IncAcceptFatal()

	Reset()

	if controlRequestsTotal.Get() != 0 {
		t.Errorf("controlRequestsTotal = %d, want 0 after Reset()", controlRequestsTotal.Get())
	}
	if controlRequestsFailed.Get() != 0 {
		t.Errorf("controlRequestsFailed = %d, want 0 after Reset()", controlRequestsFailed.Get())
	}
	if acceptTransientTotal.Get() != 0 {
		t.Errorf("acceptTransientTotal = %d, want 0 after Reset()", acceptTransientTotal.Get())
	}
	if acceptFatalTotal.Get() != 0 {
		t.Errorf("acceptFatalTotal = %d, want 0 after Reset()", acceptFatalTotal.Get())
	}
}
