package chain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kioskHex = "88411ccf93211de8e5f2a6416e4db21de4a0d69fc308a2a72e970ff05758a083"

func TestParseIDNormalizesMissingPrefix(t *testing.T) {
	withPrefix, err := ParseID("0x" + kioskHex)
	require.NoError(t, err)
	bare, err := ParseID(kioskHex)
	require.NoError(t, err)
	assert.Equal(t, withPrefix, bare)
	assert.Equal(t, "0x"+kioskHex, bare.String())
}

func TestParseIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"0x",
		"0x6",
		"0x" + kioskHex[:63],
		"0x" + kioskHex + "00",
		"0x" + strings.Repeat("z", 64),
	}
	for _, c := range cases {
		_, err := ParseID(c)
		assert.Truef(t, errors.Is(err, ErrInvalidObjectID), "expected invalid id for %q", c)
	}
}

func TestParseShortIDPadsFrameworkAddresses(t *testing.T) {
	clock, err := ParseShortID("0x6")
	require.NoError(t, err)
	assert.Equal(t, "0x"+strings.Repeat("0", 63)+"6", clock.String())
	assert.True(t, SameID("0x6", clock.String()))
	assert.False(t, SameID("0x6", "not-an-id"))
}

func TestParseCollectionType(t *testing.T) {
	raw := "0x" + kioskHex + "::nft::Creature"
	tag, err := ParseCollectionType(raw)
	require.NoError(t, err)
	assert.Equal(t, "nft", tag.Module)
	assert.Equal(t, "Creature", tag.Name)
	assert.Equal(t, raw, tag.String())

	_, err = ParseCollectionType("0x2::kiosk::Kiosk")
	assert.ErrorIs(t, err, ErrInvalidType)
	_, err = ParseCollectionType("0x" + kioskHex + "::nft")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestParseTypeTagGenerics(t *testing.T) {
	tag, err := ParseStructTag("0x2::coin::Coin<0x2::sui::SUI>")
	require.NoError(t, err)
	require.Len(t, tag.TypeParams, 1)
	assert.True(t, tag.Is(MustID("0x2"), "coin", "Coin"))
	assert.Equal(t, "SUI", tag.TypeParams[0].Struct.Name)

	vec, err := ParseTypeTag("vector<u64>")
	require.NoError(t, err)
	assert.Equal(t, KindVector, vec.Kind)
	assert.Equal(t, "vector<u64>", vec.String())

	_, err = ParseTypeTag("0x2::coin::Coin<0x2::sui::SUI")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestIDJSONRoundTrip(t *testing.T) {
	id := MustID("0x" + kioskHex)
	b, err := id.MarshalJSON()
	require.NoError(t, err)
	var out ID
	require.NoError(t, out.UnmarshalJSON(b))
	assert.Equal(t, id, out)
}
