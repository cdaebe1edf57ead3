package ratelimit

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCheck(t *testing.T) {
	t.Run("first action is allowed", func(t *testing.T) {
		l := New(3*time.Second, 1)
		if wait := l.Check("user-1"); wait != 0 {
			t.Errorf("Check() = %v, want 0", wait)
		}
	})

	t.Run("second action within window is throttled", func(t *testing.T) {
		l := New(3*time.Second, 1)
		l.Check("user-1")

		wait := l.Check("user-1")
		if wait <= 0 {
			t.Fatalf("Check() = %v, want positive wait", wait)
		}
		if wait > 3*time.Second {
			t.Errorf("Check() = %v, want <= cooldown", wait)
		}
	})

	t.Run("users are throttled independently", func(t *testing.T) {
		l := New(3*time.Second, 1)
		l.Check("user-1")

		if wait := l.Check("user-2"); wait != 0 {
			t.Errorf("Check(user-2) = %v, want 0", wait)
		}
	})

	t.Run("allowance resets after the window", func(t *testing.T) {
		l := New(20*time.Millisecond, 1)
		l.Check("user-1")
		time.Sleep(25 * time.Millisecond)

		if wait := l.Check("user-1"); wait != 0 {
			t.Errorf("Check() after window = %v, want 0", wait)
		}
	})

	t.Run("throttled attempt is not counted", func(t *testing.T) {
		l := New(40*time.Millisecond, 1)
		l.Check("user-1")

		// Hammering while throttled must not push the wait further out.
		first := l.Check("user-1")
		for range 10 {
			l.Check("user-1")
		}
		last := l.Check("user-1")
		if last > first {
			t.Errorf("wait grew from %v to %v under repeated denied checks", first, last)
		}
	})

	t.Run("burst allows several actions", func(t *testing.T) {
		l := New(time.Second, 3)
		for i := range 3 {
			if wait := l.Check("user-1"); wait != 0 {
				t.Fatalf("action %d: Check() = %v, want 0", i, wait)
			}
		}
		if wait := l.Check("user-1"); wait <= 0 {
			t.Errorf("fourth action: Check() = %v, want positive", wait)
		}
	})
}

func TestAllow(t *testing.T) {
	l := New(time.Second, 1)
	if !l.Allow("user-1") {
		t.Error("first Allow() = false, want true")
	}
	if l.Allow("user-1") {
		t.Error("second Allow() = true, want false")
	}
}

func TestUsers(t *testing.T) {
	l := New(time.Second, 1)
	l.Check("a")
	l.Check("b")
	l.Check("a")

	if got := l.Users(); got != 2 {
		t.Errorf("Users() = %d, want 2", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := New(time.Millisecond, 1)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			users := []string{"u1", "u2", "u3"}
			for range 100 {
				l.Check(users[id%len(users)])
			}
		}(i)
	}
	wg.Wait()

	if got := l.Users(); got != 3 {
		t.Errorf("Users() = %d, want 3", got)
	}
}
