package fund

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseType(t *testing.T) {
	got, err := ParseType(" zm ")
	assert.NoError(t, err)
	assert.Equal(t, TypeZM, got)

	_, err = ParseType("fidyah")
	assert.ErrorIs(t, err, ErrInvalidFundType)
}

func TestKindFundType(t *testing.T) {
	cases := map[Kind]Type{
		KindZF:          TypeZF,
		KindZM:          TypeZM,
		KindIFS:         TypeIFS,
		KindDonationBox: TypeIFS,
	}
	for kind, want := range cases {
		got, ok := kind.FundType()
		assert.True(t, ok, kind)
		assert.Equal(t, want, got, kind)
	}

	_, ok := KindFidyah.FundType()
	assert.False(t, ok)
	_, ok = KindKurban.FundType()
	assert.False(t, ok)
}

func TestParseAsnaf(t *testing.T) {
	got, err := ParseAsnaf("Ibnu_Sabil")
	assert.NoError(t, err)
	assert.Equal(t, AsnafIbnuSabil, got)

	_, err = ParseAsnaf("unknown")
	assert.ErrorIs(t, err, ErrInvalidAsnaf)
}
