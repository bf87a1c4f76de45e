package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/ziswaf/pkg/db/pagination"
)

type TransactionService interface {
	Create(ctx context.Context, req CreateTransactionRequest) (*TransactionResponse, error)
	Update(ctx context.Context, req UpdateTransactionRequest) (*TransactionResponse, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*TransactionResponse, error)
	ForceDelete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*TransactionResponse, error)
	List(ctx context.Context, req ListTransactionRequest) (*ListTransactionResponse, error)
}

type DepositService interface {
	Create(ctx context.Context, req CreateDepositRequest) (*DepositResponse, error)
	Update(ctx context.Context, req UpdateDepositRequest) (*DepositResponse, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*DepositResponse, error)
	ForceDelete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*DepositResponse, error)
}

// Importer bulk-loads transactions from a spreadsheet through the same write
// path as interactive creates.
type Importer interface {
	ImportTransactions(ctx context.Context, unitID string, r io.Reader) (*ImportResult, error)
}

type CreateTransactionRequest struct {
	UnitID          string          `json:"unit_id"`
	Kind            string          `json:"kind"`
	TrxDate         string          `json:"trx_date"`
	Amount          decimal.Decimal `json:"amount"`
	RiceKg          decimal.Decimal `json:"rice_kg"`
	SoulCount       int             `json:"soul_count"`
	AnimalCount     int             `json:"animal_count"`
	ContributorName string          `json:"contributor_name"`
	Description     *string         `json:"description,omitempty"`
}

type UpdateTransactionRequest struct {
	ID              string           `json:"id"`
	UnitID          *string          `json:"unit_id,omitempty"`
	Kind            *string          `json:"kind,omitempty"`
	TrxDate         *string          `json:"trx_date,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	RiceKg          *decimal.Decimal `json:"rice_kg,omitempty"`
	SoulCount       *int             `json:"soul_count,omitempty"`
	AnimalCount     *int             `json:"animal_count,omitempty"`
	ContributorName *string          `json:"contributor_name,omitempty"`
	Description     *string          `json:"description,omitempty"`
}

type ListTransactionRequest struct {
	UnitID    string `form:"unit_id"`
	Kind      string `form:"kind"`
	DateFrom  string `form:"date_from"`
	DateTo    string `form:"date_to"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type TransactionResponse struct {
	ID              string          `json:"id"`
	UnitID          string          `json:"unit_id"`
	Kind            string          `json:"kind"`
	TrxDate         string          `json:"trx_date"`
	Amount          decimal.Decimal `json:"amount"`
	RiceKg          decimal.Decimal `json:"rice_kg"`
	SoulCount       int             `json:"soul_count"`
	AnimalCount     int             `json:"animal_count"`
	ContributorName string          `json:"contributor_name,omitempty"`
	Description     *string         `json:"description,omitempty"`
	ImportBatchID   *string         `json:"import_batch_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ListTransactionResponse struct {
	Items    []TransactionResponse `json:"items"`
	PageInfo *pagination.PageInfo  `json:"page_info"`
}

type CreateDepositRequest struct {
	UnitID      string          `json:"unit_id"`
	DepositDate string          `json:"deposit_date"`
	FundType    string          `json:"fund_type"`
	Amount      decimal.Decimal `json:"amount"`
	RiceKg      decimal.Decimal `json:"rice_kg"`
	Reference   *string         `json:"reference,omitempty"`
}

type UpdateDepositRequest struct {
	ID          string           `json:"id"`
	DepositDate *string          `json:"deposit_date,omitempty"`
	FundType    *string          `json:"fund_type,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	RiceKg      *decimal.Decimal `json:"rice_kg,omitempty"`
	Reference   *string          `json:"reference,omitempty"`
}

type DepositResponse struct {
	ID          string          `json:"id"`
	UnitID      string          `json:"unit_id"`
	DepositDate string          `json:"deposit_date"`
	FundType    string          `json:"fund_type"`
	Amount      decimal.Decimal `json:"amount"`
	RiceKg      decimal.Decimal `json:"rice_kg"`
	Reference   *string         `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportResult struct {
	BatchID  string           `json:"batch_id"`
	Imported int              `json:"imported"`
	Failed   int              `json:"failed"`
	Errors   []ImportRowError `json:"errors,omitempty"`
}
