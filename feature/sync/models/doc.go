// Package models defines the GORM models of the authoritative enrollment
// store: the synced entities (responsavel, aluno, turma, matricula,
// documento, pendencia), the sync batch ledger and the cross-device edit
// conflict table.
package models
