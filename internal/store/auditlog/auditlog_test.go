package auditlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err = s.Append(ctx, Entry{Timestamp: base, Symbol: "BTCUSDT", Action: "SIGNAL_REJECTED", Stage: "signal", Category: "chase_high", Reason: "OI +25%"})
	require.NoError(t, err)
	id, err := s.Append(ctx, Entry{
		Timestamp: base.Add(time.Minute), Symbol: "BTCUSDT", Action: "POSITION_OPENED",
		SignalID: "sig-1", PositionID: "pos-1", Direction: "LONG", Score: 7.2, Confidence: 0.71,
		Payload: json.RawMessage(`{"size":50}`),
	})
	require.NoError(t, err)
	assert.Positive(t, id)
	_, err = s.Append(ctx, Entry{Timestamp: base.Add(2 * time.Minute), Symbol: "ETHUSDT", Action: "NO_SIGNAL"})
	require.NoError(t, err)

	all, err := s.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ETHUSDT", all[0].Symbol, "newest first")

	btc, err := s.Recent(ctx, Query{Symbol: "btcusdt", Action: "POSITION_OPENED"})
	require.NoError(t, err)
	require.Len(t, btc, 1)
	assert.Equal(t, "pos-1", btc[0].PositionID)
	assert.InDelta(t, 0.71, btc[0].Confidence, 1e-12)
	assert.JSONEq(t, `{"size":50}`, string(btc[0].Payload))
	assert.Equal(t, base.Add(time.Minute), btc[0].Timestamp)

	counts, err := s.Counts(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"POSITION_OPENED": 1, "NO_SIGNAL": 1}, counts)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Append(context.Background(), Entry{Symbol: "X", Action: "NO_SIGNAL"})
	assert.Error(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}
