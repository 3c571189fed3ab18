package txn

import "testing"

func TestBeginAllocatesStrictlyIncreasingIDs(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()

	a := c.Begin(SnapshotIsolation)
	b := c.Begin(SnapshotIsolation)
	if b.ID() <= a.ID() {
		t.Fatalf("expected strictly increasing ids, got %d then %d", a.ID(), b.ID())
	}
}

func TestOwnWritesAlwaysVisible(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	tx := c.Begin(SnapshotIsolation)
	if !tx.IsVisible(tx.ID()) {
		t.Fatalf("expected a transaction's own id to be visible to itself")
	}
}

func TestUncommittedWriteNotVisibleToOtherReader(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	writer := c.Begin(SnapshotIsolation)
	reader := c.Begin(SnapshotIsolation)
	if reader.IsVisible(writer.ID()) {
		t.Fatalf("expected writer's uncommitted id invisible to concurrent reader")
	}
}

func TestCommittedWriteVisibleToLaterReader(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	writer := c.Begin(SnapshotIsolation)
	if err := c.Commit(writer); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	reader := c.Begin(SnapshotIsolation)
	if !reader.IsVisible(writer.ID()) {
		t.Fatalf("expected committed writer visible to reader begun afterward")
	}
}

func TestRolledBackWriteNeverVisible(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	writer := c.Begin(SnapshotIsolation)
	if err := c.Rollback(writer); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	reader := c.Begin(SnapshotIsolation)
	if reader.IsVisible(writer.ID()) {
		t.Fatalf("expected rolled-back writer never visible, even to a reader begun afterward")
	}
}

func TestSnapshotIsolationDoesNotSeeLaterCommits(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	reader := c.Begin(SnapshotIsolation)
	writer := c.Begin(SnapshotIsolation)
	c.Commit(writer)

	if reader.IsVisible(writer.ID()) {
		t.Fatalf("expected snapshot-isolation reader not to see a commit after it began")
	}
	reader.Republish() // no-op under SnapshotIsolation
	if reader.IsVisible(writer.ID()) {
		t.Fatalf("Republish must be a no-op under SnapshotIsolation")
	}
}

func TestReadCommittedRepublishPicksUpLaterCommits(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	reader := c.Begin(ReadCommitted)
	writer := c.Begin(SnapshotIsolation)
	c.Commit(writer)

	if reader.IsVisible(writer.ID()) {
		t.Fatalf("expected no visibility before Republish")
	}
	reader.Republish()
	if !reader.IsVisible(writer.ID()) {
		t.Fatalf("expected Republish to pick up the commit that landed after begin")
	}
}

func TestCommittedUpToAdvancesWhenOldestInFlightCompletes(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	a := c.Begin(SnapshotIsolation)
	b := c.Begin(SnapshotIsolation)
	c.Commit(b) // b finishes first, but a (older) is still in flight

	if got := c.CommittedUpTo(); got >= a.ID() {
		t.Fatalf("committed-up-to should not pass the still-in-flight older tx: got %d, a=%d", got, a.ID())
	}

	c.Commit(a)
	if got := c.CommittedUpTo(); got < b.ID() {
		t.Fatalf("committed-up-to should have advanced past both once both completed: got %d", got)
	}
}

func TestDropAppliesPolicy(t *testing.T) {
	c := NewCoordinator(DropCommit)
	defer c.Close()
	writer := c.Begin(SnapshotIsolation)
	if err := c.Drop(writer); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	reader := c.Begin(SnapshotIsolation)
	if !reader.IsVisible(writer.ID()) {
		t.Fatalf("expected DropCommit policy to treat a dropped tx as committed")
	}
}

func TestDoubleCompleteFails(t *testing.T) {
	c := NewCoordinator(DropRollback)
	defer c.Close()
	tx := c.Begin(SnapshotIsolation)
	if err := c.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := c.Commit(tx); err != ErrNotActive {
		t.Fatalf("expected ErrNotActive on double commit, got %v", err)
	}
}
