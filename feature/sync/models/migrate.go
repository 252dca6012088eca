package models

import "gorm.io/gorm"

// Migrate creates or updates the schema for every synced entity and for the
// batch ledger.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Responsavel{},
		&Aluno{},
		&Turma{},
		&Matricula{},
		&Documento{},
		&Pendencia{},
		&SyncBatch{},
		&EditConflict{},
	)
}
