package supervisor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireRoundTrip(t *testing.T) {
	cases := []Request{
		{Kind: KindBackup, Slots: []string{"primary"}},
		{Kind: KindDelete, Slots: []string{"primary", "b1"}},
		{Kind: KindStop, Slots: nil},
		{Kind: KindIsAlive, Slots: []string{}},
	}

	for _, req := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteRequest(&buf, req))

		got, err := ReadRequest(&buf)
		require.NoError(t, err)
		assert.Equal(t, req.Kind, got.Kind)
		assert.Equal(t, len(req.Slots), len(got.Slots))
		for i := range req.Slots {
			assert.Equal(t, req.Slots[i], got.Slots[i])
		}
	}
}

func TestReadRequestRejectsExcessiveSlotCount(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(KindBackup))
	buf.Write([]byte{0, 0, 0, 5}) // n_slots = 5, exceeds the 2-slot protocol maximum

	_, err := ReadRequest(&buf)
	assert.Error(t, err)
}

func TestReadRequestRejectsOversizedSlot(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(KindBackup))
	buf.Write([]byte{0, 0, 0, 1})          // n_slots = 1
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // slot length near INT32_MAX

	_, err := ReadRequest(&buf)
	assert.Error(t, err)
}

func TestReadRequestTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(KindStatus))

	_, err := ReadRequest(&buf)
	assert.Error(t, err)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "BACKUP", KindBackup.String())
	assert.Equal(t, "RELOAD", KindReload.String())
}
