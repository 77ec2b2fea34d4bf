package keeper

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keeperlabs/reallocator/internal/engine"
	"github.com/keeperlabs/reallocator/internal/pricing"
	"github.com/keeperlabs/reallocator/internal/types"
	"github.com/keeperlabs/reallocator/internal/venue"
)

const keeperIdentity = "keeper-bot"

// memPersister records persistence calls in memory.
type memPersister struct {
	sweepNumber int
	receipts    []types.RebalanceReceipt
	snapshots   []types.SweepSnapshot
	positions   []types.Position
	protocols   []types.ProtocolConfig
}

func (m *memPersister) IncrementSweepNumber() (int, error) {
	m.sweepNumber++
	return m.sweepNumber, nil
}

func (m *memPersister) SaveRebalanceReceipt(r types.RebalanceReceipt) (int64, error) {
	m.receipts = append(m.receipts, r)
	return int64(len(m.receipts)), nil
}

func (m *memPersister) SaveSweepSnapshot(s types.SweepSnapshot) (int64, error) {
	m.snapshots = append(m.snapshots, s)
	return int64(len(m.snapshots)), nil
}

func (m *memPersister) UpsertPosition(p types.Position) error {
	m.positions = append(m.positions, p)
	return nil
}

func (m *memPersister) SaveProtocolConfig(c types.ProtocolConfig) error {
	m.protocols = append(m.protocols, c)
	return nil
}

func newSweepFixture(t *testing.T) (*engine.Engine, *venue.SimOracle) {
	t.Helper()

	clock := venue.NewSimClock(1_000)
	oracle := venue.NewSimOracle(clock, sdkmath.NewInt(pricing.PriceScale*3/2), sdkmath.ZeroInt())
	venues := venue.NewSimVenues(oracle)

	eng, err := engine.New(engine.Config{
		FeeBps:       0,
		FeeRecipient: "fee-sink",
		Keeper:       keeperIdentity,
		Oracle:       oracle,
		Liquidity:    venues,
		Lending:      venues,
		Swapper:      venues,
		Clock:        clock,
	})
	require.NoError(t, err)
	return eng, oracle
}

func createFunded(t *testing.T, eng *engine.Engine, owner string) types.PositionKey {
	t.Helper()
	pos, err := eng.CreatePosition(owner, 1, sdkmath.NewInt(1_000_000), sdkmath.NewInt(2_000_000))
	require.NoError(t, err)
	_, err = eng.Deposit(owner, pos.Key(), sdkmath.NewInt(300), sdkmath.ZeroInt())
	require.NoError(t, err)
	return pos.Key()
}

func TestNewValidation(t *testing.T) {
	eng, _ := newSweepFixture(t)

	_, err := New(Config{Engine: nil, Identity: keeperIdentity, Persister: &memPersister{}})
	assert.Error(t, err)

	_, err = New(Config{Engine: eng, Identity: "", Persister: &memPersister{}})
	assert.Error(t, err)

	_, err = New(Config{Engine: eng, Identity: keeperIdentity, Persister: nil})
	assert.Error(t, err)

	_, err = New(Config{Engine: eng, Identity: keeperIdentity, Persister: &memPersister{}, MaxBatchSize: -1})
	assert.Error(t, err)
}

func TestRunSweepMovesAndSkips(t *testing.T) {
	eng, _ := newSweepFixture(t)

	aliceKey := createFunded(t, eng, "alice")
	bobKey := createFunded(t, eng, "bob")
	require.NoError(t, eng.Pause("bob", bobKey))

	persist := &memPersister{}
	k, err := New(Config{Engine: eng, Identity: keeperIdentity, Persister: persist})
	require.NoError(t, err)

	snapshot := k.RunSweep(context.Background())

	assert.Equal(t, 1, snapshot.SweepNumber)
	assert.Equal(t, 2, snapshot.PositionsSeen)
	assert.Equal(t, 1, snapshot.PositionsMoved)
	assert.Equal(t, 1, snapshot.PositionsUnchanged)
	assert.Equal(t, 0, snapshot.Failures)

	// One receipt per position, all persisted, plus the sweep summary.
	assert.Len(t, persist.receipts, 2)
	assert.Len(t, persist.snapshots, 1)

	// The moved position and the protocol config were persisted.
	require.Len(t, persist.positions, 1)
	assert.Equal(t, aliceKey, persist.positions[0].Key())
	assert.Len(t, persist.protocols, 1)

	// Alice's funds landed in the LP.
	pos, err := eng.Position(aliceKey)
	require.NoError(t, err)
	assert.NotEmpty(t, pos.LPHandle)

	// Bob stayed paused and untouched.
	pos, err = eng.Position(bobKey)
	require.NoError(t, err)
	assert.True(t, pos.HasIdle())
}

func TestRunSweepIsolatesFailures(t *testing.T) {
	eng, oracle := newSweepFixture(t)

	createFunded(t, eng, "alice")
	createFunded(t, eng, "bob")

	// The first oracle read fails; the second position still rebalances.
	oracle.FailNext(assert.AnError)

	persist := &memPersister{}
	k, err := New(Config{Engine: eng, Identity: keeperIdentity, Persister: persist})
	require.NoError(t, err)

	snapshot := k.RunSweep(context.Background())

	assert.Equal(t, 2, snapshot.PositionsSeen)
	assert.Equal(t, 1, snapshot.Failures)
	assert.Equal(t, 1, snapshot.PositionsMoved)

	var failed int
	for _, r := range persist.receipts {
		if !r.Success {
			failed++
			assert.NotEmpty(t, r.Message)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestRunSweepBatchCap(t *testing.T) {
	eng, _ := newSweepFixture(t)

	createFunded(t, eng, "alice")
	createFunded(t, eng, "bob")
	createFunded(t, eng, "carol")

	persist := &memPersister{}
	k, err := New(Config{Engine: eng, Identity: keeperIdentity, Persister: persist, MaxBatchSize: 2})
	require.NoError(t, err)

	snapshot := k.RunSweep(context.Background())
	assert.Equal(t, 2, snapshot.PositionsSeen)
	assert.Len(t, persist.receipts, 2)
}

func TestRunSweepEmptyEngine(t *testing.T) {
	eng, _ := newSweepFixture(t)

	persist := &memPersister{}
	k, err := New(Config{Engine: eng, Identity: keeperIdentity, Persister: persist})
	require.NoError(t, err)

	snapshot := k.RunSweep(context.Background())
	assert.Equal(t, 0, snapshot.PositionsSeen)
	assert.Len(t, persist.snapshots, 1)
}
