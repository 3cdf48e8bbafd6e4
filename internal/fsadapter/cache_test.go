package fsadapter

import (
	"testing"

	"mdsync/internal/testutil"
)

func TestCache(t *testing.T) {
	t.Parallel()
	c := NewCache(nil)
	one := testutil.NewMemDir("one", nil)
	two := testutil.NewMemDir("two", nil)

	a := c.Get("v1", one)
	if c.Get("v1", one) != a {
		t.Error("Get() did not reuse the adapter")
	}
	if c.Get("v1", two) == a {
		t.Error("Get() reused an adapter for a different root")
	}
	c.Get("v2", two)
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}

	c.Clear("v1")
	if c.Len() != 1 {
		t.Errorf("Len() after Clear = %d, want 1", c.Len())
	}
	if c.Get("v1", two) == a {
		t.Error("Get() after Clear returned the stale adapter")
	}
}
