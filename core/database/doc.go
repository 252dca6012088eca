// Package database provides the GORM connection used by the authoritative
// enrollment store.
//
// Production runs against MySQL; tests open an in-memory sqlite database with
// the same Connect entry point so repository code is exercised against real
// SQL semantics (unique indexes, conditional updates, RowsAffected).
//
// TranslateError is enabled so uniqueness violations surface as
// gorm.ErrDuplicatedKey on both drivers.
package database
