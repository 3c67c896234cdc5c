package erasure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPolicies(t *testing.T) {
	c := NewCatalog()

	cases := []struct {
		id     uint8
		name   string
		data   uint32
		parity uint32
	}{
		{RS6x3PolicyID, "RS-6-3-1024k", 6, 3},
		{RS3x2PolicyID, "RS-3-2-1024k", 3, 2},
		{RSLegacy6x3PolicyID, "RS-LEGACY-6-3-1024k", 6, 3},
		{XOR2x1PolicyID, "XOR-2-1-1024k", 2, 1},
		{RS10x4PolicyID, "RS-10-4-1024k", 10, 4},
	}

	for _, cs := range cases {
		p, err := c.Lookup(cs.id)
		require.NoError(t, err)
		require.Equal(t, cs.name, p.Name)
		require.Equal(t, cs.data, p.DataUnits)
		require.Equal(t, cs.parity, p.ParityUnits)
		require.Equal(t, uint64(1024*1024), p.CellSize)
		require.Equal(t, uint64(cs.data)+uint64(cs.parity), p.GroupSize())
		require.NoError(t, p.Validate())

		byName, err := c.LookupByName(cs.name)
		require.NoError(t, err)
		require.Same(t, p, byName)
	}

	require.Len(t, c.Policies(), len(cases))
	require.Equal(t, "RS-6-3-1024k", DefaultPolicyName)
}

func TestLookupUnknown(t *testing.T) {
	c := NewCatalog()

	_, err := c.Lookup(200)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnknownPolicy))

	var upe *UnknownPolicyError
	require.True(t, errors.As(err, &upe))
	require.Equal(t, uint8(200), upe.ID)

	_, err = c.LookupByName("RS-42-1-1k")
	require.ErrorIs(t, err, ErrUnknownPolicy)
	require.Contains(t, err.Error(), "RS-42-1-1k")
}

func TestRegister(t *testing.T) {
	c := NewCatalog()

	p, err := c.Register(Policy{Codec: CodecRS, DataUnits: 4, ParityUnits: 2, CellSize: 256 * 1024})
	require.NoError(t, err)
	require.Equal(t, "RS-4-2-256k", p.Name)
	require.Equal(t, firstUserPolicyID, p.ID)

	got, err := c.Lookup(p.ID)
	require.NoError(t, err)
	require.Same(t, p, got)

	_, err = c.Register(Policy{Codec: CodecRS, DataUnits: 4, ParityUnits: 2, CellSize: 256 * 1024})
	require.Error(t, err, "duplicate name")

	_, err = c.Register(Policy{ID: RS6x3PolicyID, Name: "other", Codec: CodecRS, DataUnits: 2, ParityUnits: 2, CellSize: 1024})
	require.Error(t, err, "duplicate id")

	p2, err := c.Register(Policy{Codec: CodecRS, DataUnits: 8, ParityUnits: 0, CellSize: 64 * 1024})
	require.NoError(t, err, "parity-free policies are allowed")
	require.Equal(t, firstUserPolicyID+1, p2.ID)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		ok     bool
	}{
		{"valid", Policy{Name: "a", Codec: CodecRS, DataUnits: 6, ParityUnits: 3, CellSize: 1024}, true},
		{"no data units", Policy{Name: "a", Codec: CodecRS, DataUnits: 0, ParityUnits: 3, CellSize: 1024}, false},
		{"zero cell", Policy{Name: "a", Codec: CodecRS, DataUnits: 6, ParityUnits: 3, CellSize: 0}, false},
		{"too many shards", Policy{Name: "a", Codec: CodecRS, DataUnits: 40000, ParityUnits: 30000, CellSize: 1024}, false},
		{"xor two parity", Policy{Name: "a", Codec: CodecXOR, DataUnits: 2, ParityUnits: 2, CellSize: 1024}, false},
		{"unknown codec", Policy{Name: "a", Codec: "lrc", DataUnits: 2, ParityUnits: 1, CellSize: 1024}, false},
		{"missing name", Policy{Codec: CodecRS, DataUnits: 2, ParityUnits: 1, CellSize: 1024}, false},
		{"stripe overflow", Policy{Name: "a", Codec: CodecXOR, DataUnits: 4, ParityUnits: 1, CellSize: 1 << 63}, false},
	}

	for _, cs := range cases {
		t.Run(cs.name, func(t *testing.T) {
			err := cs.policy.Validate()
			if cs.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
