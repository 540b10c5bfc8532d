package timesheet

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PunchKind labels one in/out pair within a day.
type PunchKind string

const (
	PunchRegular PunchKind = "regular"
	PunchLunch   PunchKind = "lunch"
	PunchExtra   PunchKind = "extra"
)

// RecordStatus tracks a time record through its lifecycle.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordApproved  RecordStatus = "approved"
	RecordRejected  RecordStatus = "rejected"
	RecordCorrected RecordStatus = "corrected"
)

// GeoPoint is the optional location captured with a punch event.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// PunchPair is one clock-in/clock-out interval. Out nil means the matching
// out punch never arrived; the segment contributes zero worked time and the
// record is flagged incomplete rather than dropped.
type PunchPair struct {
	Kind   PunchKind  `json:"kind"`
	In     time.Time  `json:"in"`
	Out    *time.Time `json:"out,omitempty"`
	InGeo  *GeoPoint  `json:"in_geo,omitempty"`
	OutGeo *GeoPoint  `json:"out_geo,omitempty"`
}

// TimeRecord is one employee-day of punches plus the computed buckets.
type TimeRecord struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    int64           `json:"tenant_id"`
	EmployeeID  int64           `json:"employee_id"`
	Date        time.Time       `json:"date"`
	Pairs       []PunchPair     `json:"pairs"`
	Worked      decimal.Decimal `json:"worked"`
	Overtime50  decimal.Decimal `json:"overtime50"`
	Overtime100 decimal.Decimal `json:"overtime100"`
	Absence     decimal.Decimal `json:"absence"`
	Incomplete  bool            `json:"incomplete"`
	Status      RecordStatus    `json:"status"`
	Locked      bool            `json:"locked"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SplitResult partitions a day's time into the payroll buckets.
type SplitResult struct {
	Worked      decimal.Decimal `json:"worked"`
	Overtime50  decimal.Decimal `json:"overtime50"`
	Overtime100 decimal.Decimal `json:"overtime100"`
	Absence     decimal.Decimal `json:"absence"`
	Incomplete  bool            `json:"incomplete"`
}

// WorkSchedulePolicy holds the tenant-level split configuration. The bank
// threshold is how many surplus hours per day go to the time bank at the 50%
// tier before direct payment kicks in.
type WorkSchedulePolicy struct {
	TenantID           int64           `json:"tenant_id"`
	BankThresholdHours decimal.Decimal `json:"bank_threshold_hours"`
	CreditExpiryMonths int             `json:"credit_expiry_months"`
}

// CorrectionStatus tracks an attendance correction request.
type CorrectionStatus string

const (
	CorrectionPending  CorrectionStatus = "pending"
	CorrectionApproved CorrectionStatus = "approved"
	CorrectionRejected CorrectionStatus = "rejected"
)

// AttendanceCorrection proposes replacement punch pairs for a record.
// It only takes effect after the approval workflow accepts it.
type AttendanceCorrection struct {
	ID             uuid.UUID        `json:"id"`
	TenantID       int64            `json:"tenant_id"`
	EmployeeID     int64            `json:"employee_id"`
	RecordID       uuid.UUID        `json:"record_id"`
	OriginalPairs  []PunchPair      `json:"original_pairs"`
	CorrectedPairs []PunchPair      `json:"corrected_pairs"`
	Justification  string           `json:"justification"`
	Status         CorrectionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("timesheet: not found")
	// ErrRecordLocked indicates the record belongs to a closed payroll.
	ErrRecordLocked = errors.New("timesheet: record locked by closed payroll")
	// ErrCorrectionFinalized indicates the correction already left pending.
	ErrCorrectionFinalized = errors.New("timesheet: correction already finalized")
)
