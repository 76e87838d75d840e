package openguard

import (
	"path/filepath"
	"testing"

	"github.com/telehash/telehash/pkg/telehash/identity"
)

// conformance exercises the Ledger contract against any implementation:
// an unseen sender reports a value below any real timestamp, a recorded
// timestamp is returned and replaced by a later record, and distinct
// senders are independent.
func conformance(t *testing.T, l Ledger) {
	t.Helper()
	var h1, h2 identity.Hashname
	h1[0] = 0x01
	h2[0] = 0x02

	if got := l.LastOpen(h1); got >= 1000 {
		t.Fatalf("LastOpen(unseen) = %d, want a value less than 1000", got)
	}

	l.RecordOpen(h1, 1000)
	if got := l.LastOpen(h1); got != 1000 {
		t.Fatalf("LastOpen(h1) = %d, want 1000", got)
	}
	if got := l.LastOpen(h2); got >= 1000 {
		t.Fatalf("LastOpen(h2) = %d, want independent of h1", got)
	}

	l.RecordOpen(h1, 2000)
	if got := l.LastOpen(h1); got != 2000 {
		t.Fatalf("LastOpen(h1) after second record = %d, want 2000", got)
	}
}

func TestMemoryConformance(t *testing.T) {
	conformance(t, NewMemory())
}

func TestLevelDBConformance(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	l, err := OpenLevelDB(dir)
	if err != nil {
		t.Fatalf("OpenLevelDB: %v", err)
	}
	defer l.Close()
	conformance(t, l)
}
