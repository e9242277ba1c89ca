package auditlog_test

import (
	"context"
	"testing"

	"github.com/jmerrifield20/NodeRegistrar/internal/auditlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func registerEvent(name string) auditlog.Event {
	return auditlog.Event{
		Operation: "register",
		Action:    "create",
		NodeName:  name,
		Actor:     "registrar",
		Success:   true,
	}
}

func TestNewMemory_genesisEntry(t *testing.T) {
	l := auditlog.NewMemory()

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry, err := l.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "genesis", entry.Operation)
	assert.Equal(t, auditlog.GenesisHash, entry.Hash)
}

func TestAppend_chainsCorrectly(t *testing.T) {
	l := auditlog.NewMemory()

	e1, err := l.Append(ctx, registerEvent("a.example.com"))
	require.NoError(t, err)
	e2, err := l.Append(ctx, auditlog.Event{
		Operation: "decommission",
		Action:    "destroy",
		NodeName:  "a.example.com",
		Certname:  "abc123",
		Actor:     "registrar",
		Success:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, e1.Hash, e2.PrevHash, "chain broken")
	assert.Equal(t, "abc123", e2.Certname)

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n) // genesis + 2
}

func TestVerify_valid(t *testing.T) {
	l := auditlog.NewMemory()
	_, _ = l.Append(ctx, registerEvent("a.example.com"))
	_, _ = l.Append(ctx, registerEvent("b.example.com"))

	assert.NoError(t, l.Verify(ctx))
}

func TestGet_returnsCopy(t *testing.T) {
	l := auditlog.NewMemory()
	_, _ = l.Append(ctx, registerEvent("a.example.com"))

	e, err := l.Get(ctx, 1)
	require.NoError(t, err)
	e.NodeName = "tampered"

	assert.NoError(t, l.Verify(ctx), "mutating a returned entry must not affect the ledger")
}

func TestGet_outOfRange(t *testing.T) {
	l := auditlog.NewMemory()
	_, err := l.Get(ctx, 5)
	assert.Error(t, err)
}

func TestRoot_returnsLastHash(t *testing.T) {
	l := auditlog.NewMemory()
	e, err := l.Append(ctx, registerEvent("a.example.com"))
	require.NoError(t, err)

	root, err := l.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.Hash, root)
}

func TestRoot_genesisOnly(t *testing.T) {
	l := auditlog.NewMemory()
	root, err := l.Root(ctx)
	require.NoError(t, err)
	assert.Equal(t, auditlog.GenesisHash, root)
}
