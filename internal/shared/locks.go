package shared

import "fmt"

// TimeBankLockKey builds the redis key serialising balance reads and debits
// for one employee.
func TimeBankLockKey(tenantID, employeeID int64) string {
	return fmt.Sprintf("timebank:%d:employee:%d:lock", tenantID, employeeID)
}

// PayrollRunStopKey builds the redis key polled between employees to honour
// a stop request.
func PayrollRunStopKey(runID string) string {
	return fmt.Sprintf("payroll:run:%s:stop", runID)
}

// PayrollRunProgressKey builds the redis hash key holding live run progress.
func PayrollRunProgressKey(runID string) string {
	return fmt.Sprintf("payroll:run:%s:progress", runID)
}

// PayrollRunLogKey builds the redis list key holding run log lines.
func PayrollRunLogKey(runID string) string {
	return fmt.Sprintf("payroll:run:%s:log", runID)
}
