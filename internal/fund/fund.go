// Package fund defines the collection categories shared by every recap.
package fund

import (
	"errors"
	"strings"
)

var (
	ErrInvalidFundType = errors.New("invalid_fund_type")
	ErrInvalidKind     = errors.New("invalid_transaction_kind")
	ErrInvalidAsnaf    = errors.New("invalid_asnaf")
)

// Type is an allocatable fund category.
type Type string

const (
	TypeZF  Type = "ZF"  // zakat fitrah
	TypeZM  Type = "ZM"  // zakat mal
	TypeIFS Type = "IFS" // infak/sedekah
)

func Types() []Type {
	return []Type{TypeZF, TypeZM, TypeIFS}
}

func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToUpper(strings.TrimSpace(raw))); t {
	case TypeZF, TypeZM, TypeIFS:
		return t, nil
	default:
		return "", ErrInvalidFundType
	}
}

// Kind is the variant of a recorded fund transaction.
type Kind string

const (
	KindZF          Kind = "zf"
	KindZM          Kind = "zm"
	KindIFS         Kind = "ifs"
	KindFidyah      Kind = "fidyah"
	KindDonationBox Kind = "donation_box"
	KindKurban      Kind = "kurban"
)

func Kinds() []Kind {
	return []Kind{KindZF, KindZM, KindIFS, KindFidyah, KindDonationBox, KindKurban}
}

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", ErrInvalidKind
}

// FundType maps a transaction kind onto the fund it is allocated under.
// Fidyah and kurban are recorded but never allocated.
func (k Kind) FundType() (Type, bool) {
	switch k {
	case KindZF:
		return TypeZF, true
	case KindZM:
		return TypeZM, true
	case KindIFS, KindDonationBox:
		return TypeIFS, true
	default:
		return "", false
	}
}

// AcceptsRice reports whether the kind may carry a rice quantity.
func (k Kind) AcceptsRice() bool {
	return k == KindZF || k == KindFidyah
}

// Asnaf is a recipient category for distributions.
type Asnaf string

const (
	AsnafFakir        Asnaf = "fakir"
	AsnafMiskin       Asnaf = "miskin"
	AsnafAmil         Asnaf = "amil"
	AsnafMuallaf      Asnaf = "muallaf"
	AsnafRiqab        Asnaf = "riqab"
	AsnafGharimin     Asnaf = "gharimin"
	AsnafFisabilillah Asnaf = "fisabilillah"
	AsnafIbnuSabil    Asnaf = "ibnu_sabil"
)

func ParseAsnaf(raw string) (Asnaf, error) {
	a := Asnaf(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case AsnafFakir, AsnafMiskin, AsnafAmil, AsnafMuallaf, AsnafRiqab,
		AsnafGharimin, AsnafFisabilillah, AsnafIbnuSabil:
		return a, nil
	default:
		return "", ErrInvalidAsnaf
	}
}
