// Copyright 2018-present Network Optix, Inc. Licensed under MPL 2.0: www.mozilla.org/MPL/2.0/
package journal

import (
	"path/filepath"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	journal, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestRecordAndRecent(t *testing.T) {
	journal := openTestJournal(t)
	handle := uuid.NewV4()
	recordedAt := time.Unix(1700000000, 0)
	entries := []Entry{
		{Handle: handle, Device: "sim:1", Cdb: []byte{0x12, 0, 0, 0, 0x24, 0}, Emulated: true, RecordedAt: recordedAt},
		{
			Handle:     handle,
			Device:     "sim:1",
			Cdb:        []byte{0xff, 0, 0, 0, 0, 0},
			Emulated:   true,
			Category:   9,
			ScsiStatus: 0x02,
			Sense:      []byte{0x70, 0, 0x05, 0, 0, 0, 0, 0x0a, 0, 0, 0, 0, 0x20, 0},
			Duration:   1500 * time.Microsecond,
			RecordedAt: recordedAt,
		},
		{Handle: uuid.NewV4(), Device: "/dev/sg0", Cdb: []byte{0, 0, 0, 0, 0, 0}},
	}
	for _, entry := range entries {
		require.NoError(t, journal.Record(entry))
	}

	all, err := journal.Recent("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/dev/sg0", all[0].Device)
	assert.False(t, all[0].RecordedAt.IsZero())

	simulated, err := journal.Recent("sim:1", 10)
	require.NoError(t, err)
	require.Len(t, simulated, 2)
	latest := simulated[0]
	assert.Equal(t, handle, latest.Handle)
	assert.Equal(t, entries[1].Cdb, latest.Cdb)
	assert.True(t, latest.Emulated)
	assert.Equal(t, 9, latest.Category)
	assert.Equal(t, byte(0x02), latest.ScsiStatus)
	assert.Equal(t, entries[1].Sense, latest.Sense)
	assert.Equal(t, 1500*time.Microsecond, latest.Duration)
	assert.True(t, recordedAt.Equal(latest.RecordedAt))
	assert.Empty(t, simulated[1].Sense)
	assert.Greater(t, latest.Id, simulated[1].Id)

	limited, err := journal.Recent("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPrune(t *testing.T) {
	journal := openTestJournal(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, journal.Record(Entry{Device: "sim:1", Cdb: []byte{byte(i)}}))
	}
	removed, err := journal.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	entries, err := journal.Recent("", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte{4}, entries[0].Cdb)
	assert.Equal(t, uuid.Nil, entries[0].Handle)
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	journal, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, journal.Record(Entry{Device: "sim:", Cdb: []byte{0x00}}))
	require.NoError(t, journal.Close())

	journal, err = Open(path)
	require.NoError(t, err)
	defer journal.Close()
	assert.Equal(t, path, journal.Path())
	entries, err := journal.Recent("", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = Open("")
	assert.Error(t, err)
}
