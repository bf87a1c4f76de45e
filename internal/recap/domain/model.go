package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/internal/period"
	"gorm.io/datatypes"
)

// Kind names one of the derived recap tables.
type Kind string

const (
	KindTransaction  Kind = "transactions"
	KindAllocation   Kind = "allocations"
	KindDistribution Kind = "distributions"
	KindAmilRights   Kind = "amil-rights"
	KindUnit         Kind = "units"
)

// Header is shared by every recap row. (unit_id, granularity, period_key)
// is unique per table and identifies the bucket a full rebuild replaces.
type Header struct {
	ID          snowflake.ID       `gorm:"primaryKey" json:"id,string"`
	UnitID      snowflake.ID       `gorm:"column:unit_id;not null;index:,unique,composite:recap_key,priority:1" json:"unit_id,string"`
	Granularity period.Granularity `gorm:"column:granularity;type:varchar(8);not null;index:,unique,composite:recap_key,priority:2" json:"granularity"`
	PeriodKey   string             `gorm:"column:period_key;type:varchar(10);not null;index:,unique,composite:recap_key,priority:3" json:"period_key"`
	PeriodDate  time.Time          `gorm:"column:period_date;type:date;not null" json:"period_date"`
	Checksum    string             `gorm:"column:checksum;type:varchar(64);not null" json:"checksum"`
	CreatedAt   time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"not null" json:"updated_at"`
}

func NewHeader(unitID snowflake.ID, ref period.Ref) Header {
	return Header{
		UnitID:      unitID,
		Granularity: ref.Granularity,
		PeriodKey:   ref.Key(),
		PeriodDate:  ref.Start,
	}
}

func (h *Header) RecapHeader() *Header { return h }

func (h Header) Ref() period.Ref {
	return period.NewRef(h.Granularity, h.PeriodDate)
}

// TransactionRecap sums fund transactions of one unit and period. Counts are
// row counts; souls and animals are sums of the per-row quantities.
type TransactionRecap struct {
	Header `gorm:"embedded"`

	ZFAmount          decimal.Decimal `gorm:"column:zf_amount;type:numeric(20,2);not null;default:0" json:"zf_amount"`
	ZFRiceKg          decimal.Decimal `gorm:"column:zf_rice_kg;type:numeric(20,3);not null;default:0" json:"zf_rice_kg"`
	ZFSouls           int             `gorm:"column:zf_souls;not null;default:0" json:"zf_souls"`
	ZFCount           int             `gorm:"column:zf_count;not null;default:0" json:"zf_count"`
	ZMAmount          decimal.Decimal `gorm:"column:zm_amount;type:numeric(20,2);not null;default:0" json:"zm_amount"`
	ZMCount           int             `gorm:"column:zm_count;not null;default:0" json:"zm_count"`
	IFSAmount         decimal.Decimal `gorm:"column:ifs_amount;type:numeric(20,2);not null;default:0" json:"ifs_amount"`
	IFSCount          int             `gorm:"column:ifs_count;not null;default:0" json:"ifs_count"`
	DonationBoxAmount decimal.Decimal `gorm:"column:donation_box_amount;type:numeric(20,2);not null;default:0" json:"donation_box_amount"`
	DonationBoxCount  int             `gorm:"column:donation_box_count;not null;default:0" json:"donation_box_count"`
	FidyahAmount      decimal.Decimal `gorm:"column:fidyah_amount;type:numeric(20,2);not null;default:0" json:"fidyah_amount"`
	FidyahRiceKg      decimal.Decimal `gorm:"column:fidyah_rice_kg;type:numeric(20,3);not null;default:0" json:"fidyah_rice_kg"`
	FidyahSouls       int             `gorm:"column:fidyah_souls;not null;default:0" json:"fidyah_souls"`
	FidyahCount       int             `gorm:"column:fidyah_count;not null;default:0" json:"fidyah_count"`
	KurbanAmount      decimal.Decimal `gorm:"column:kurban_amount;type:numeric(20,2);not null;default:0" json:"kurban_amount"`
	KurbanAnimals     int             `gorm:"column:kurban_animals;not null;default:0" json:"kurban_animals"`
	KurbanCount       int             `gorm:"column:kurban_count;not null;default:0" json:"kurban_count"`
	TotalAmount       decimal.Decimal `gorm:"column:total_amount;type:numeric(20,2);not null;default:0" json:"total_amount"`
	TransactionCount  int             `gorm:"column:transaction_count;not null;default:0" json:"transaction_count"`
}

func (TransactionRecap) TableName() string { return "transaction_recaps" }

// IFSTotal is the infak/sedekah amount subject to allocation, donation boxes
// included.
func (r *TransactionRecap) IFSTotal() decimal.Decimal {
	return r.IFSAmount.Add(r.DonationBoxAmount)
}

// Line is the allocation of one fund line at money scale.
type Line struct {
	Total      decimal.Decimal `gorm:"column:total;type:numeric(20,2);not null;default:0" json:"total"`
	Remit      decimal.Decimal `gorm:"column:remit;type:numeric(20,2);not null;default:0" json:"remit"`
	Retain     decimal.Decimal `gorm:"column:retain;type:numeric(20,2);not null;default:0" json:"retain"`
	Amil       decimal.Decimal `gorm:"column:amil;type:numeric(20,2);not null;default:0" json:"amil"`
	Distribute decimal.Decimal `gorm:"column:distribute;type:numeric(20,2);not null;default:0" json:"distribute"`
	Operator   decimal.Decimal `gorm:"column:operator;type:numeric(20,2);not null;default:0" json:"operator"`
	RemitPct   decimal.Decimal `gorm:"column:remit_pct;type:numeric(5,2);not null;default:0" json:"remit_pct"`
	AmilPct    decimal.Decimal `gorm:"column:amil_pct;type:numeric(5,2);not null;default:0" json:"amil_pct"`
	// RuleYear is the effective year of the rule applied, 0 for the default split.
	RuleYear int `gorm:"column:rule_year;not null;default:0" json:"rule_year"`
}

// RiceLine is the allocation of zakat fitrah rice in kilograms.
type RiceLine struct {
	Total      decimal.Decimal `gorm:"column:total;type:numeric(20,3);not null;default:0" json:"total"`
	Remit      decimal.Decimal `gorm:"column:remit;type:numeric(20,3);not null;default:0" json:"remit"`
	Retain     decimal.Decimal `gorm:"column:retain;type:numeric(20,3);not null;default:0" json:"retain"`
	Amil       decimal.Decimal `gorm:"column:amil;type:numeric(20,3);not null;default:0" json:"amil"`
	Distribute decimal.Decimal `gorm:"column:distribute;type:numeric(20,3);not null;default:0" json:"distribute"`
	Operator   decimal.Decimal `gorm:"column:operator;type:numeric(20,3);not null;default:0" json:"operator"`
}

// AllocationRecap splits one TransactionRecap row per fund line. Totals sum
// the money lines, rice value included.
type AllocationRecap struct {
	Header `gorm:"embedded"`

	ZFMoney     Line     `gorm:"embedded;embeddedPrefix:zf_money_" json:"zf_money"`
	ZFRice      RiceLine `gorm:"embedded;embeddedPrefix:zf_rice_kg_" json:"zf_rice_kg"`
	ZFRiceValue Line     `gorm:"embedded;embeddedPrefix:zf_rice_value_" json:"zf_rice_value"`
	ZM          Line     `gorm:"embedded;embeddedPrefix:zm_" json:"zm"`
	IFS         Line     `gorm:"embedded;embeddedPrefix:ifs_" json:"ifs"`

	RicePrice decimal.Decimal `gorm:"column:rice_price;type:numeric(20,2);not null;default:0" json:"rice_price"`

	TotalCollection decimal.Decimal `gorm:"column:total_collection;type:numeric(20,2);not null;default:0" json:"total_collection"`
	TotalRemit      decimal.Decimal `gorm:"column:total_remit;type:numeric(20,2);not null;default:0" json:"total_remit"`
	TotalRetain     decimal.Decimal `gorm:"column:total_retain;type:numeric(20,2);not null;default:0" json:"total_retain"`
	TotalAmil       decimal.Decimal `gorm:"column:total_amil;type:numeric(20,2);not null;default:0" json:"total_amil"`
	TotalDistribute decimal.Decimal `gorm:"column:total_distribute;type:numeric(20,2);not null;default:0" json:"total_distribute"`
	TotalOperator   decimal.Decimal `gorm:"column:total_operator;type:numeric(20,2);not null;default:0" json:"total_operator"`
}

func (AllocationRecap) TableName() string { return "allocation_recaps" }

// MoneyLines returns the lines summed into the totals.
func (r *AllocationRecap) MoneyLines() []Line {
	return []Line{r.ZFMoney, r.ZFRiceValue, r.ZM, r.IFS}
}

// Bucket is one group of a distribution breakdown.
type Bucket struct {
	Key           string          `json:"key"`
	Amount        decimal.Decimal `json:"amount"`
	RiceKg        decimal.Decimal `json:"rice_kg"`
	Beneficiaries int             `json:"beneficiaries"`
	Count         int             `json:"count"`
}

type DistributionRecap struct {
	Header `gorm:"embedded"`

	TotalAmount        decimal.Decimal `gorm:"column:total_amount;type:numeric(20,2);not null;default:0" json:"total_amount"`
	TotalRiceKg        decimal.Decimal `gorm:"column:total_rice_kg;type:numeric(20,3);not null;default:0" json:"total_rice_kg"`
	TotalBeneficiaries int             `gorm:"column:total_beneficiaries;not null;default:0" json:"total_beneficiaries"`
	EventCount         int             `gorm:"column:event_count;not null;default:0" json:"event_count"`
	ZFAmount           decimal.Decimal `gorm:"column:zf_amount;type:numeric(20,2);not null;default:0" json:"zf_amount"`
	ZFRiceKg           decimal.Decimal `gorm:"column:zf_rice_kg;type:numeric(20,3);not null;default:0" json:"zf_rice_kg"`
	ZMAmount           decimal.Decimal `gorm:"column:zm_amount;type:numeric(20,2);not null;default:0" json:"zm_amount"`
	IFSAmount          decimal.Decimal `gorm:"column:ifs_amount;type:numeric(20,2);not null;default:0" json:"ifs_amount"`
	ByAsnaf            datatypes.JSON  `gorm:"column:by_asnaf;not null" json:"by_asnaf"`
	ByProgram          datatypes.JSON  `gorm:"column:by_program;not null" json:"by_program"`
}

func (DistributionRecap) TableName() string { return "distribution_recaps" }

// AmilRightsRecap is the amil's share of what was distributed, per fund type.
type AmilRightsRecap struct {
	Header `gorm:"embedded"`

	ZFDistributed       decimal.Decimal `gorm:"column:zf_distributed;type:numeric(20,2);not null;default:0" json:"zf_distributed"`
	ZFAmilPct           decimal.Decimal `gorm:"column:zf_amil_pct;type:numeric(5,2);not null;default:0" json:"zf_amil_pct"`
	ZFAmil              decimal.Decimal `gorm:"column:zf_amil;type:numeric(20,2);not null;default:0" json:"zf_amil"`
	ZFRiceDistributedKg decimal.Decimal `gorm:"column:zf_rice_distributed_kg;type:numeric(20,3);not null;default:0" json:"zf_rice_distributed_kg"`
	ZFRiceAmilKg        decimal.Decimal `gorm:"column:zf_rice_amil_kg;type:numeric(20,3);not null;default:0" json:"zf_rice_amil_kg"`
	ZMDistributed       decimal.Decimal `gorm:"column:zm_distributed;type:numeric(20,2);not null;default:0" json:"zm_distributed"`
	ZMAmilPct           decimal.Decimal `gorm:"column:zm_amil_pct;type:numeric(5,2);not null;default:0" json:"zm_amil_pct"`
	ZMAmil              decimal.Decimal `gorm:"column:zm_amil;type:numeric(20,2);not null;default:0" json:"zm_amil"`
	IFSDistributed      decimal.Decimal `gorm:"column:ifs_distributed;type:numeric(20,2);not null;default:0" json:"ifs_distributed"`
	IFSAmilPct          decimal.Decimal `gorm:"column:ifs_amil_pct;type:numeric(5,2);not null;default:0" json:"ifs_amil_pct"`
	IFSAmil             decimal.Decimal `gorm:"column:ifs_amil;type:numeric(20,2);not null;default:0" json:"ifs_amil"`
	TotalDistributed    decimal.Decimal `gorm:"column:total_distributed;type:numeric(20,2);not null;default:0" json:"total_distributed"`
	TotalAmil           decimal.Decimal `gorm:"column:total_amil;type:numeric(20,2);not null;default:0" json:"total_amil"`
	TotalBeneficiaries  int             `gorm:"column:total_beneficiaries;not null;default:0" json:"total_beneficiaries"`
}

func (AmilRightsRecap) TableName() string { return "amil_rights_recaps" }

// UnitPeriodSummary is the presentation row combining every recap of a
// unit and period with its recorded deposits.
type UnitPeriodSummary struct {
	Header `gorm:"embedded"`

	CollectionTotal       decimal.Decimal `gorm:"column:collection_total;type:numeric(20,2);not null;default:0" json:"collection_total"`
	RemitExpected         decimal.Decimal `gorm:"column:remit_expected;type:numeric(20,2);not null;default:0" json:"remit_expected"`
	Deposited             decimal.Decimal `gorm:"column:deposited;type:numeric(20,2);not null;default:0" json:"deposited"`
	DepositOutstanding    decimal.Decimal `gorm:"column:deposit_outstanding;type:numeric(20,2);not null;default:0" json:"deposit_outstanding"`
	RiceCollectedKg       decimal.Decimal `gorm:"column:rice_collected_kg;type:numeric(20,3);not null;default:0" json:"rice_collected_kg"`
	RiceRemitKg           decimal.Decimal `gorm:"column:rice_remit_kg;type:numeric(20,3);not null;default:0" json:"rice_remit_kg"`
	RiceDepositedKg       decimal.Decimal `gorm:"column:rice_deposited_kg;type:numeric(20,3);not null;default:0" json:"rice_deposited_kg"`
	DistributeAllocation  decimal.Decimal `gorm:"column:distribute_allocation;type:numeric(20,2);not null;default:0" json:"distribute_allocation"`
	Distributed           decimal.Decimal `gorm:"column:distributed;type:numeric(20,2);not null;default:0" json:"distributed"`
	DistributionRemaining decimal.Decimal `gorm:"column:distribution_remaining;type:numeric(20,2);not null;default:0" json:"distribution_remaining"`
	RiceDistributedKg     decimal.Decimal `gorm:"column:rice_distributed_kg;type:numeric(20,3);not null;default:0" json:"rice_distributed_kg"`
	CollectionAmil        decimal.Decimal `gorm:"column:collection_amil;type:numeric(20,2);not null;default:0" json:"collection_amil"`
	DistributionAmil      decimal.Decimal `gorm:"column:distribution_amil;type:numeric(20,2);not null;default:0" json:"distribution_amil"`
	OperatorRight         decimal.Decimal `gorm:"column:operator_right;type:numeric(20,2);not null;default:0" json:"operator_right"`
	Beneficiaries         int             `gorm:"column:beneficiaries;not null;default:0" json:"beneficiaries"`
}

func (UnitPeriodSummary) TableName() string { return "unit_summaries" }

// Models lists every recap table, for migrations and tests.
func Models() []any {
	return []any{
		&TransactionRecap{},
		&AllocationRecap{},
		&DistributionRecap{},
		&AmilRightsRecap{},
		&UnitPeriodSummary{},
	}
}
