package domain

import "time"

// RawPermitRecord is one row of the commercial permits CSV export, exactly as
// published. Currency and date columns are kept as strings and cleaned by
// ParseRawRecord.
type RawPermitRecord struct {
	PermitNumber string `csv:"Permit_Number"`
	PermitType   string `csv:"Permit_Type"`
	Status       string `csv:"Status"`
	Address      string `csv:"Address"`
	IssuedDate   string `csv:"Issued_Date"`  // e.g. "2022/02/15 00:00:00+00"
	FinaledDate  string `csv:"Finaled_Date"` // empty until the permit is finaled
	Valuation    string `csv:"Valuation"`    // e.g. "$1,250,000.00"
	FeesPaid     string `csv:"Fees_Paid"`    // e.g. "$4,312.75"
	SquareFeet   string `csv:"Square_Feet"`
}

// Permit is the cleaned, typed representation of a historical permit.
// Nil numeric fields mean the value was missing or unparseable upstream.
type Permit struct {
	ID           string    `json:"id"`
	PermitNumber string    `json:"permit_number,omitempty"`
	PermitType   string    `json:"permit_type"`
	Status       string    `json:"status,omitempty"`
	Address      string    `json:"address,omitempty"`
	ZipCode      string    `json:"zip_code,omitempty"`
	ZipSource    string    `json:"zip_source,omitempty"` // "address", "geocoded", "failed"
	IssuedDate   time.Time `json:"issued_date,omitempty"`
	FinaledDate  time.Time `json:"finaled_date,omitempty"`
	Year         int       `json:"year,omitempty"`
	DurationDays *int      `json:"duration_days,omitempty"`
	SquareFeet   *float64  `json:"square_feet,omitempty"`
	Valuation    *float64  `json:"valuation,omitempty"`
	FeesPaid     *float64  `json:"fees_paid,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// Dataset is one immutable snapshot of cleaned permits. Once published it is
// shared by concurrent readers and must not be modified.
type Dataset struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	LoadedAt time.Time `json:"loaded_at"`
	Permits  []Permit  `json:"-"`
}

// Len returns the number of permits in the snapshot. Safe on a nil receiver.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Permits)
}
