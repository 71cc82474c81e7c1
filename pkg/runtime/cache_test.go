package runtime

import (
	"testing"
	"time"
)

// TestMakeKey tests cache key construction
func TestMakeKey(t *testing.T) {
	tests := []struct {
		appID      string
		functionID string
		parts      []string
		want       string
	}{
		{"app1", "fn1", nil, "app1::fn1"},
		{"app1", "fn1", []string{"common"}, "app1::fn1::common"},
		{"app1", "fn1", []string{"a", "b"}, "app1::fn1::a::b"},
	}
	for _, tt := range tests {
		if got := MakeKey(tt.appID, tt.functionID, tt.parts...); got != tt.want {
			t.Errorf("MakeKey(%q, %q, %v) = %q, want %q", tt.appID, tt.functionID, tt.parts, got, tt.want)
		}
	}
}

func testArtifact() *Artifact {
	return &Artifact{}
}

// TestCacheGetSet tests basic insertion and retrieval
func TestCacheGetSet(t *testing.T) {
	c := NewCache(4, time.Minute)

	if _, hit := c.Get("app1::fn1"); hit {
		t.Fatal("empty cache reported a hit")
	}
	art := testArtifact()
	c.Set("app1::fn1", art)
	got, hit := c.Get("app1::fn1")
	if !hit || got != art {
		t.Fatal("cached artifact not returned")
	}
}

// TestCacheTTL tests lazy expiry
func TestCacheTTL(t *testing.T) {
	c := NewCache(4, 10*time.Millisecond)
	c.Set("app1::fn1", testArtifact())

	time.Sleep(30 * time.Millisecond)
	if _, hit := c.Get("app1::fn1"); hit {
		t.Fatal("expired entry still served")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expiry, want 0", c.Len())
	}
}

// TestCacheEviction tests FIFO eviction at capacity
func TestCacheEviction(t *testing.T) {
	c := NewCache(2, time.Minute)
	c.Set("app1::a", testArtifact())
	c.Set("app1::b", testArtifact())
	c.Set("app1::c", testArtifact())

	if _, hit := c.Get("app1::a"); hit {
		t.Error("oldest entry survived eviction")
	}
	if _, hit := c.Get("app1::b"); !hit {
		t.Error("second entry evicted too early")
	}
	if _, hit := c.Get("app1::c"); !hit {
		t.Error("newest entry missing")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

// TestCacheInvalidate tests that invalidation takes variants with it
func TestCacheInvalidate(t *testing.T) {
	c := NewCache(8, time.Minute)
	c.Set("app1::fn1", testArtifact())
	c.Set("app1::fn1::common", testArtifact())
	c.Set("app1::fn10", testArtifact())
	c.Set("app2::fn1", testArtifact())

	c.Invalidate("app1", "fn1")

	if _, hit := c.Get("app1::fn1"); hit {
		t.Error("invalidated entry still cached")
	}
	if _, hit := c.Get("app1::fn1::common"); hit {
		t.Error("variant entry still cached")
	}
	if _, hit := c.Get("app1::fn10"); !hit {
		t.Error("prefix-similar key wrongly invalidated")
	}
	if _, hit := c.Get("app2::fn1"); !hit {
		t.Error("other app's entry wrongly invalidated")
	}
}

// TestCacheClearApp tests app-wide purge
func TestCacheClearApp(t *testing.T) {
	c := NewCache(8, time.Minute)
	c.Set("app1::fn1", testArtifact())
	c.Set("app1::fn2", testArtifact())
	c.Set("app2::fn1", testArtifact())

	c.ClearApp("app1")

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if _, hit := c.Get("app2::fn1"); !hit {
		t.Error("other app's entry wrongly cleared")
	}
}
