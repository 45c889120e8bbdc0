package directory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTransport struct {
	name   string
	closed atomic.Bool
}

func (f *fakeTransport) Send(context.Context, []byte) error { return nil }
func (f *fakeTransport) Close() error                       { f.closed.Store(true); return nil }

func checkInvariant(t *testing.T, d *Directory) {
	t.Helper()
	for _, e := range d.List() {
		if (e.Transport != nil) != (e.Status == StatusOnline) {
			t.Errorf("camera %s: transport=%v status=%s", e.CameraID, e.Transport, e.Status)
		}
	}
}

func TestDirectory_RegisterIsIdempotent(t *testing.T) {
	d := New()

	e := d.Register("cam-1", "Camera cam-1", "")
	if e.Status != StatusPending || e.Claimed() {
		t.Fatalf("new entry = %+v, want pending unclaimed", e)
	}

	d.Register("cam-1", "", "u1")
	d.Register("cam-1", "", "")

	if d.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", d.Count())
	}
	got, _ := d.Lookup("cam-1")
	if got.OwnerID != "u1" || got.Name != "Camera cam-1" {
		t.Errorf("entry = %+v", got)
	}
}

func TestDirectory_AttachDetachOwned(t *testing.T) {
	d := New()
	d.Register("cam-1", "Porch", "u1")

	tr := &fakeTransport{}
	evicted, err := d.AttachTransport("cam-1", tr)
	if err != nil || evicted != nil {
		t.Fatalf("AttachTransport() = %v, %v", evicted, err)
	}
	checkInvariant(t, d)

	e, _ := d.Lookup("cam-1")
	if e.Status != StatusOnline || e.Transport != tr {
		t.Fatalf("after attach: %+v", e)
	}

	before, changed := d.DetachTransport("cam-1", tr)
	if !changed || before.Status != StatusOnline {
		t.Fatalf("DetachTransport() = %+v, %v", before, changed)
	}
	checkInvariant(t, d)

	e, ok := d.Lookup("cam-1")
	if !ok || e.Status != StatusOffline || e.Transport != nil {
		t.Errorf("after detach: %+v (exists=%v)", e, ok)
	}
}

func TestDirectory_DetachUnclaimedRemoves(t *testing.T) {
	d := New()
	d.Register("cam-1", "Camera cam-1", "")

	tr := &fakeTransport{}
	if _, err := d.AttachTransport("cam-1", tr); err != nil {
		t.Fatal(err)
	}
	if _, changed := d.DetachTransport("cam-1", tr); !changed {
		t.Fatal("expected change")
	}
	if _, ok := d.Lookup("cam-1"); ok {
		t.Error("unclaimed entry should be removed on close")
	}

	d.Register("cam-2", "Camera cam-2", "")
	if _, changed := d.DetachTransport("cam-2", &fakeTransport{}); !changed {
		t.Error("pending entry without transport should be removed on close")
	}
	if d.Count() != 0 {
		t.Errorf("Count() = %d, want 0", d.Count())
	}
}

func TestDirectory_ReconnectWins(t *testing.T) {
	d := New()
	d.Register("cam-1", "Porch", "u1")

	t1 := &fakeTransport{name: "t1"}
	t2 := &fakeTransport{name: "t2"}
	if _, err := d.AttachTransport("cam-1", t1); err != nil {
		t.Fatal(err)
	}

	evicted, err := d.AttachTransport("cam-1", t2)
	if err != nil {
		t.Fatal(err)
	}
	if evicted != t1 {
		t.Fatalf("evicted = %v, want t1", evicted)
	}

	// Late close from the evicted transport must not demote t2.
	if _, changed := d.DetachTransport("cam-1", t1); changed {
		t.Error("stale close changed the entry")
	}

	e, _ := d.Lookup("cam-1")
	if e.Status != StatusOnline || e.Transport != t2 {
		t.Errorf("entry = %+v, want online on t2", e)
	}
	checkInvariant(t, d)
}

func TestDirectory_AttachUnknown(t *testing.T) {
	d := New()
	if _, err := d.AttachTransport("ghost", &fakeTransport{}); err != ErrUnknownCamera {
		t.Errorf("err = %v, want ErrUnknownCamera", err)
	}
}

func TestDirectory_LookupReturnsCopy(t *testing.T) {
	d := New()
	d.Register("cam-1", "Porch", "u1")

	e, _ := d.Lookup("cam-1")
	e.Name = "mutated"

	again, _ := d.Lookup("cam-1")
	if again.Name != "Porch" {
		t.Errorf("Lookup leaked internal state: %q", again.Name)
	}
}

func TestDirectory_Listings(t *testing.T) {
	d := New()
	d.Register("b", "B", "u1")
	d.Register("a", "A", "u1")
	d.Register("c", "C", "u2")
	d.Register("p", "P", "")

	owned := d.ListByOwner(" u1 ")
	if len(owned) != 2 || owned[0].CameraID != "a" || owned[1].CameraID != "b" {
		t.Errorf("ListByOwner = %+v", owned)
	}
	if got := d.ListByOwner(""); len(got) != 0 {
		t.Errorf("ListByOwner(\"\") = %+v", got)
	}

	unclaimed := d.ListUnclaimed()
	if len(unclaimed) != 1 || unclaimed[0].CameraID != "p" {
		t.Errorf("ListUnclaimed = %+v", unclaimed)
	}

	if err := d.SetOwner("p", "u2"); err != nil {
		t.Fatal(err)
	}
	if len(d.ListUnclaimed()) != 0 || len(d.ListByOwner("u2")) != 2 {
		t.Error("SetOwner did not move the entry")
	}

	counts := d.CountByStatus()
	if counts[StatusPending] != 4 {
		t.Errorf("pending = %d, want 4", counts[StatusPending])
	}

	if removed, ok := d.Remove("a"); !ok || removed.CameraID != "a" {
		t.Errorf("Remove = %+v, %v", removed, ok)
	}
	if _, ok := d.Remove("a"); ok {
		t.Error("second Remove reported success")
	}
}

func TestDirectory_TouchIgnoresStaleTransport(t *testing.T) {
	d := New()
	d.Register("cam-1", "Porch", "u1")
	live := &fakeTransport{}
	_, _ = d.AttachTransport("cam-1", live)

	at := time.Now()
	d.Touch("cam-1", &fakeTransport{}, at)
	if e, _ := d.Lookup("cam-1"); !e.LastFrameAt.IsZero() {
		t.Error("stale transport updated LastFrameAt")
	}

	d.Touch("cam-1", live, at)
	if e, _ := d.Lookup("cam-1"); !e.LastFrameAt.Equal(at) {
		t.Error("live transport did not update LastFrameAt")
	}
}

func TestDirectory_ConcurrentAttachDetach(t *testing.T) {
	d := New()
	const cameras = 20
	for i := 0; i < cameras; i++ {
		d.Register(fmt.Sprintf("cam-%d", i), "", "u1")
	}

	var wg sync.WaitGroup
	for i := 0; i < cameras; i++ {
		id := fmt.Sprintf("cam-%d", i)
		for j := 0; j < 10; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr := &fakeTransport{}
				if _, err := d.AttachTransport(id, tr); err != nil {
					t.Error(err)
					return
				}
				d.Lookup(id)
				d.DetachTransport(id, tr)
			}()
		}
	}
	wg.Wait()

	if d.Count() != cameras {
		t.Errorf("Count() = %d, want %d", d.Count(), cameras)
	}
	checkInvariant(t, d)
}

func TestDirectory_ExclusiveSerializesPerIdentity(t *testing.T) {
	d := New()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Exclusive(ctx, "cam-1", func() error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(100 * time.Microsecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen.Load())
	}
	if d.locks.size() != 0 {
		t.Errorf("lock table not cleaned up: %d keys", d.locks.size())
	}
}

func TestDirectory_ExclusiveDifferentIdentitiesRunInParallel(t *testing.T) {
	d := New()
	ctx := context.Background()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = d.Exclusive(ctx, "cam-1", func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan struct{})
	go func() {
		_ = d.Exclusive(ctx, "cam-2", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cam-2 blocked behind cam-1")
	}
	close(release)
}

func TestDirectory_ExclusiveHonoursContext(t *testing.T) {
	d := New()

	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = d.Exclusive(context.Background(), "cam-1", func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Exclusive(ctx, "cam-1", func() error {
		t.Error("fn ran without the lock")
		return nil
	})
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	close(release)
}
