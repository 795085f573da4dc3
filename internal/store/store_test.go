package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/CK6170/roverlink/vehicle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndRecent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	dist := uint16(150)
	batt := uint8(120)
	first := &vehicle.ReceiveState{
		Distance:   &dist,
		IRObstacle: &vehicle.IRObstacle{Left: 1, Right: 0},
		BatteryRaw: &batt,
		ReceivedAt: base,
	}
	heading := int16(-90)
	second := &vehicle.ReceiveState{CarHeading: &heading, ReceivedAt: base.Add(time.Second)}

	id1, err := s.InsertTelemetry(ctx, vehicle.GalaxyRVR, first, vehicle.BatteryCentiOffset6)
	require.NoError(t, err)
	id2, err := s.InsertTelemetry(ctx, vehicle.ZeusCar, second, vehicle.BatteryCentiOffset6)
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	recs, err := s.RecentTelemetry(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	newest := recs[0]
	assert.Equal(t, id2, newest.ID)
	assert.Equal(t, vehicle.ZeusCar.String(), newest.Family)
	require.NotNil(t, newest.Heading)
	assert.Equal(t, int64(-90), *newest.Heading)
	assert.Nil(t, newest.Distance)
	assert.Nil(t, newest.Battery)

	oldest := recs[1]
	require.NotNil(t, oldest.Distance)
	assert.Equal(t, int64(150), *oldest.Distance)
	assert.Equal(t, int64(1), *oldest.IRLeft)
	assert.Equal(t, int64(0), *oldest.IRRight)
	require.NotNil(t, oldest.Battery)
	assert.InDelta(t, 7.2, *oldest.Battery, 1e-9)
	assert.True(t, base.Equal(oldest.ReceivedAt))

	var back vehicle.ReceiveState
	require.NoError(t, json.Unmarshal(oldest.Raw, &back))
	assert.Equal(t, uint16(150), *back.Distance)

	limited, err := s.RecentTelemetry(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestInsertNil(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.InsertTelemetry(context.Background(), vehicle.GalaxyRVR, nil, vehicle.BatteryRaw)
	assert.ErrorIs(t, err, ErrNilSnapshot)
}

func TestPrune(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.InsertTelemetry(ctx, vehicle.GalaxyRVR,
			&vehicle.ReceiveState{ReceivedAt: base.Add(time.Duration(i) * time.Minute)}, vehicle.BatteryRaw)
		require.NoError(t, err)
	}
	n, err := s.PruneBefore(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := s.CountTelemetry(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.InsertTelemetry(context.Background(), vehicle.GalaxyRVR, &vehicle.ReceiveState{}, vehicle.BatteryRaw)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	count, err := s.CountTelemetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
