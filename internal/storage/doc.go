// Package storage persists schedules and run history.
//
// Two stores live behind one handle:
//   - ScheduleStore: one recurring policy per job type, with atomic batches
//     for read-modify-write repairs
//   - RunStore: an append-mostly audit trail of execution attempts
//
// Drivers: "memory" (default, process-local), "sqlite" (modernc.org/sqlite)
// and "mysql" (github.com/go-sql-driver/mysql). The SQL drivers share one
// database/sql implementation and differ only in DDL.
package storage
