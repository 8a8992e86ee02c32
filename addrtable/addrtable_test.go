package addrtable

import (
	"sync"
	"testing"

	"github.com/anachro-go/rs485bus/wire"
)

func TestClaimReleaseRoundTrip(t *testing.T) {
	var tbl Table
	if tbl.IsActive(5) {
		t.Fatal("fresh table should have no active addresses")
	}
	if !tbl.Claim(5) {
		t.Fatal("first claim of a free address should succeed")
	}
	if !tbl.IsActive(5) {
		t.Fatal("claimed address should be active")
	}
	if tbl.Claim(5) {
		t.Fatal("second claim of an already-active address should fail")
	}
	tbl.Release(5)
	if tbl.IsActive(5) {
		t.Fatal("released address should no longer be active")
	}
	if !tbl.Claim(5) {
		t.Fatal("claim after release should succeed")
	}
}

func TestClaimRejectsOutOfRange(t *testing.T) {
	var tbl Table
	if tbl.Claim(0) {
		t.Fatal("address 0 (Dom) must never be claimable")
	}
	if tbl.Claim(32) {
		t.Fatal("address 32 is out of the 1..31 assignable range")
	}
}

func TestCountAndAvailable(t *testing.T) {
	var tbl Table
	for a := wire.Addr(1); a <= MaxAddr; a++ {
		if !tbl.Claim(a) {
			t.Fatalf("claim %d should succeed", a)
		}
	}
	if tbl.Available() {
		t.Fatal("table should report full once all 31 addresses are claimed")
	}
	if tbl.Count() != MaxAddr {
		t.Fatalf("count = %d, want %d", tbl.Count(), MaxAddr)
	}
	if _, ok := tbl.NextFree(); ok {
		t.Fatal("NextFree should fail on a full table")
	}
	tbl.Release(17)
	addr, ok := tbl.NextFree()
	if !ok || addr != 17 {
		t.Fatalf("NextFree = (%d, %v), want (17, true)", addr, ok)
	}
}

func TestOffersAndActiveAddrsPartitionTheRange(t *testing.T) {
	var tbl Table
	tbl.Claim(1)
	tbl.Claim(2)
	tbl.Claim(31)

	offers := tbl.Offers()
	active := tbl.ActiveAddrs()
	if len(offers.Items)+len(active) != MaxAddr {
		t.Fatalf("offers (%d) + active (%d) should cover all %d addresses", len(offers.Items), len(active), MaxAddr)
	}
	for _, a := range active {
		for _, o := range offers.Items {
			if a == o {
				t.Fatalf("address %d appears both active and offered", a)
			}
		}
	}
	if len(active) != 3 {
		t.Fatalf("active = %v, want 3 entries", active)
	}
}

// Concurrent claimants racing for the same address must see exactly
// one winner: this is the core collision-avoidance invariant the
// discovery state machine depends on.
func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	var tbl Table
	const n = 64
	var wg sync.WaitGroup
	wins := make(chan int, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if tbl.Claim(3) {
				wins <- 1
			}
		}()
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", count)
	}
}
