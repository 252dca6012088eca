package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"matricula-sync/feature/sync/models"

	"gorm.io/gorm"
)

// applier executes one change item inside one transaction. All reads and
// writes go through ap.tx so a failed item rolls back completely.
type applier struct {
	tx      *gorm.DB
	batch   *Batch
	table   *MappingTable
	arbiter *Arbiter
	seq     *Sequencer
}

func (ap *applier) apply(ctx context.Context, item ChangeItem, payload any) (uint, error) {
	switch item.Entity {
	case EntityResponsavel:
		return ap.applyResponsavel(ctx, item, payload)
	case EntityAluno:
		return ap.applyAluno(ctx, item, payload)
	case EntityTurma:
		return ap.applyTurma(ctx, item, payload)
	case EntityMatricula:
		return ap.applyMatricula(ctx, item, payload)
	case EntityDocumento:
		return ap.applyDocumento(ctx, item, payload)
	case EntityPendencia:
		return ap.applyPendencia(ctx, item, payload)
	}
	return 0, fmt.Errorf("unknown entity %q", item.Entity)
}

// resolveRef resolves a reference field through the batch's mapping table,
// falling back to treating the value as an already-canonical id.
func (ap *applier) resolveRef(entity EntityType, ref string) (uint, error) {
	id, ok := ap.table.Resolve(entity, ref)
	if !ok {
		return 0, fmt.Errorf("unresolved %s reference %q", entity, ref)
	}
	return id, nil
}

// mustExist verifies that a canonical reference actually points at a row.
func (ap *applier) mustExist(ctx context.Context, model any, entity EntityType, id uint) error {
	var count int64
	if err := ap.tx.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%s %d not found", entity, id)
	}
	return nil
}

// checkStale compares the server record's update time against the batch's
// last_sync; a newer server write means another device edited the record
// since this device synced, and the update must not silently overwrite it.
// Records minted earlier in this same batch are exempt: their timestamps
// are this batch's own writes.
func (ap *applier) checkStale(entity EntityType, idLocal string, idGlobal uint, updatedAt time.Time) error {
	if ap.batch.LastSync == nil {
		return nil
	}
	if _, ok := ap.table.Lookup(entity, idLocal); ok {
		return nil
	}
	if updatedAt.After(*ap.batch.LastSync) {
		return &staleUpdateError{idGlobal: idGlobal, serverUpdatedAt: updatedAt}
	}
	return nil
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return &t, nil
}

// ---- responsavel ----

func (ap *applier) applyResponsavel(ctx context.Context, item ChangeItem, payload any) (uint, error) {
	switch item.Operation {
	case OpCreate:
		p := payload.(*ResponsavelPayload)
		rec := models.Responsavel{
			Nome:     p.Nome,
			CPF:      p.CPF,
			Telefone: p.Telefone,
			Email:    p.Email,
			Endereco: p.Endereco,
		}
		if err := ap.tx.WithContext(ctx).Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, fmt.Errorf("responsavel with cpf %s already exists", p.CPF)
			}
			return 0, err
		}
		return rec.ID, nil

	case OpUpdate:
		p := payload.(*ResponsavelPayload)
		id, err := ap.resolveRef(EntityResponsavel, item.IDLocal)
		if err != nil {
			return 0, err
		}
		var rec models.Responsavel
		if err := ap.tx.WithContext(ctx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("responsavel %d not found", id)
			}
			return 0, err
		}
		if err := ap.checkStale(EntityResponsavel, item.IDLocal, rec.ID, rec.UpdatedAt); err != nil {
			return 0, err
		}
		rec.Nome = p.Nome
		rec.CPF = p.CPF
		rec.Telefone = p.Telefone
		rec.Email = p.Email
		rec.Endereco = p.Endereco
		if err := ap.tx.WithContext(ctx).Save(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, fmt.Errorf("responsavel with cpf %s already exists", p.CPF)
			}
			return 0, err
		}
		return rec.ID, nil

	case OpDelete:
		id, err := ap.resolveRef(EntityResponsavel, item.IDLocal)
		if err != nil {
			return 0, err
		}
		res := ap.tx.WithContext(ctx).Delete(&models.Responsavel{}, id)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, fmt.Errorf("responsavel %d not found", id)
		}
		return id, nil
	}
	return 0, fmt.Errorf("unknown operation %q", item.Operation)
}

// ---- aluno ----

func (ap *applier) applyAluno(ctx context.Context, item ChangeItem, payload any) (uint, error) {
	switch item.Operation {
	case OpCreate:
		p := payload.(*AlunoPayload)
		nascimento, err := parseDate(p.DataNascimento)
		if err != nil {
			return 0, err
		}
		rec := models.Aluno{
			Nome:           p.Nome,
			DataNascimento: nascimento,
			Sexo:           p.Sexo,
			Observacoes:    p.Observacoes,
		}
		if p.CPF != "" {
			rec.CPF = &p.CPF
		}
		if err := ap.tx.WithContext(ctx).Create(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, fmt.Errorf("aluno with cpf %s already exists", p.CPF)
			}
			return 0, err
		}
		return rec.ID, nil

	case OpUpdate:
		p := payload.(*AlunoPayload)
		id, err := ap.resolveRef(EntityAluno, item.IDLocal)
		if err != nil {
			return 0, err
		}
		var rec models.Aluno
		if err := ap.tx.WithContext(ctx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("aluno %d not found", id)
			}
			return 0, err
		}
		if err := ap.checkStale(EntityAluno, item.IDLocal, rec.ID, rec.UpdatedAt); err != nil {
			return 0, err
		}
		nascimento, err := parseDate(p.DataNascimento)
		if err != nil {
			return 0, err
		}
		rec.Nome = p.Nome
		rec.DataNascimento = nascimento
		rec.Sexo = p.Sexo
		rec.Observacoes = p.Observacoes
		rec.CPF = nil
		if p.CPF != "" {
			rec.CPF = &p.CPF
		}
		if err := ap.tx.WithContext(ctx).Save(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return 0, fmt.Errorf("aluno with cpf %s already exists", p.CPF)
			}
			return 0, err
		}
		return rec.ID, nil

	case OpDelete:
		id, err := ap.resolveRef(EntityAluno, item.IDLocal)
		if err != nil {
			return 0, err
		}
		res := ap.tx.WithContext(ctx).Delete(&models.Aluno{}, id)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, fmt.Errorf("aluno %d not found", id)
		}
		return id, nil
	}
	return 0, fmt.Errorf("unknown operation %q", item.Operation)
}

// ---- turma ----

func (ap *applier) applyTurma(ctx context.Context, item ChangeItem, payload any) (uint, error) {
	switch item.Operation {
	case OpCreate:
		p := payload.(*TurmaPayload)
		rec := models.Turma{
			Nome:             p.Nome,
			Etapa:            p.Etapa,
			Turno:            p.Turno,
			AnoLetivo:        p.AnoLetivo,
			Capacidade:       p.Capacidade,
			VagasDisponiveis: p.Capacidade,
		}
		if err := ap.tx.WithContext(ctx).Create(&rec).Error; err != nil {
			return 0, err
		}
		return rec.ID, nil

	case OpUpdate:
		// Seat counts and capacity are owned by the arbiter and the school
		// administration respectively; device updates only touch descriptive
		// fields.
		p := payload.(*TurmaPayload)
		id, err := ap.resolveRef(EntityTurma, item.IDLocal)
		if err != nil {
			return 0, err
		}
		var rec models.Turma
		if err := ap.tx.WithContext(ctx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("turma %d not found", id)
			}
			return 0, err
		}
		if err := ap.checkStale(EntityTurma, item.IDLocal, rec.ID, rec.UpdatedAt); err != nil {
			return 0, err
		}
		rec.Nome = p.Nome
		rec.Etapa = p.Etapa
		rec.Turno = p.Turno
		rec.AnoLetivo = p.AnoLetivo
		if err := ap.tx.WithContext(ctx).Save(&rec).Error; err != nil {
			return 0, err
		}
		return rec.ID, nil

	case OpDelete:
		id, err := ap.resolveRef(EntityTurma, item.IDLocal)
		if err != nil {
			return 0, err
		}
		var enrolled int64
		if err := ap.tx.WithContext(ctx).Model(&models.Matricula{}).Where("turma_id = ?", id).Count(&enrolled).Error; err != nil {
			return 0, err
		}
		if enrolled > 0 {
			return 0, fmt.Errorf("turma %d still has %d enrollments", id, enrolled)
		}
		res := ap.tx.WithContext(ctx).Delete(&models.Turma{}, id)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, fmt.Errorf("turma %d not found", id)
		}
		return id, nil
	}
	return 0, fmt.Errorf("unknown operation %q", item.Operation)
}

// ---- matricula ----

// holdsSeat reports whether an enrollment currently occupies a classroom
// seat. Pre-enrollments (waiting list) never do.
func holdsSeat(m *models.Matricula) bool {
	return m.TurmaID != nil && m.Status != models.StatusPre
}

func (ap *applier) applyMatricula(ctx context.Context, item ChangeItem, payload any) (uint, error) {
	switch item.Operation {
	case OpCreate:
		return ap.createMatricula(ctx, payload.(*MatriculaPayload))
	case OpUpdate:
		return ap.updateMatricula(ctx, item, payload.(*MatriculaPayload))
	case OpDelete:
		id, err := ap.resolveRef(EntityMatricula, item.IDLocal)
		if err != nil {
			return 0, err
		}
		var rec models.Matricula
		if err := ap.tx.WithContext(ctx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("matricula %d not found", id)
			}
			return 0, err
		}
		if holdsSeat(&rec) {
			if _, err := ap.arbiter.ReleaseSeat(ctx, *rec.TurmaID); err != nil {
				return 0, err
			}
		}
		if err := ap.tx.WithContext(ctx).Delete(&rec).Error; err != nil {
			return 0, err
		}
		return id, nil
	}
	return 0, fmt.Errorf("unknown operation %q", item.Operation)
}

func (ap *applier) createMatricula(ctx context.Context, p *MatriculaPayload) (uint, error) {
	alunoID, err := ap.resolveRef(EntityAluno, p.AlunoID)
	if err != nil {
		return 0, err
	}
	if err := ap.mustExist(ctx, &models.Aluno{}, EntityAluno, alunoID); err != nil {
		return 0, err
	}
	responsavelID, err := ap.resolveRef(EntityResponsavel, p.ResponsavelID)
	if err != nil {
		return 0, err
	}
	if err := ap.mustExist(ctx, &models.Responsavel{}, EntityResponsavel, responsavelID); err != nil {
		return 0, err
	}

	status := models.MatriculaStatus(p.Status)
	if status == "" {
		status = models.StatusPendenteDoc
	}
	// The protocol and the sequencer count both key on the upper-cased
	// stage, so the stored value is normalized the same way.
	etapa := strings.ToUpper(p.Etapa)

	var turmaID *uint
	if p.TurmaID == "" {
		// No classroom chosen yet: always a pre-enrollment.
		status = models.StatusPre
	} else {
		id, err := ap.resolveRef(EntityTurma, p.TurmaID)
		if err != nil {
			return 0, err
		}
		if err := ap.mustExist(ctx, &models.Turma{}, EntityTurma, id); err != nil {
			return 0, err
		}
		turmaID = &id

		claimed, err := ap.arbiter.ClaimSeat(ctx, id)
		if err != nil {
			return 0, err
		}
		if !claimed {
			// Full classroom is a business outcome, not an error: the
			// enrollment is created on the waiting list and the classroom
			// is left untouched.
			status = models.StatusPre
		}
	}

	// The protocol's uniqueness is owned by the database index; collisions
	// under concurrent batches step to the next candidate.
	for attempt := 0; attempt < maxProtocolAttempts; attempt++ {
		protocolo, err := ap.seq.Candidate(ctx, ap.tx, etapa, p.AnoLetivo, attempt)
		if err != nil {
			return 0, err
		}
		rec := models.Matricula{
			Protocolo:     protocolo,
			AlunoID:       alunoID,
			ResponsavelID: responsavelID,
			TurmaID:       turmaID,
			Etapa:         etapa,
			AnoLetivo:     p.AnoLetivo,
			Status:        status,
		}
		// Savepoint per attempt: a failed insert must not poison the item
		// transaction.
		err = ap.tx.Transaction(func(inner *gorm.DB) error {
			return inner.WithContext(ctx).Create(&rec).Error
		})
		if err == nil {
			return rec.ID, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, err
		}
	}
	return 0, ErrProtocolExhausted
}

func (ap *applier) updateMatricula(ctx context.Context, item ChangeItem, p *MatriculaPayload) (uint, error) {
	id, err := ap.resolveRef(EntityMatricula, item.IDLocal)
	if err != nil {
		return 0, err
	}
	var rec models.Matricula
	if err := ap.tx.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("matricula %d not found", id)
		}
		return 0, err
	}
	if err := ap.checkStale(EntityMatricula, item.IDLocal, rec.ID, rec.UpdatedAt); err != nil {
		return 0, err
	}

	newStatus := rec.Status
	if p.Status != "" {
		newStatus = models.MatriculaStatus(p.Status)
	}
	newTurmaID := rec.TurmaID
	if p.TurmaID != "" {
		resolved, err := ap.resolveRef(EntityTurma, p.TurmaID)
		if err != nil {
			return 0, err
		}
		if err := ap.mustExist(ctx, &models.Turma{}, EntityTurma, resolved); err != nil {
			return 0, err
		}
		newTurmaID = &resolved
	}

	held := holdsSeat(&rec)
	turmaChanged := (rec.TurmaID == nil) != (newTurmaID == nil) ||
		(rec.TurmaID != nil && newTurmaID != nil && *rec.TurmaID != *newTurmaID)
	wantsSeat := newTurmaID != nil && newStatus != models.StatusPre

	// Seat accounting: claim before release so a transfer within the same
	// batch never frees a seat it could not replace.
	if wantsSeat && (!held || turmaChanged) {
		claimed, err := ap.arbiter.ClaimSeat(ctx, *newTurmaID)
		if err != nil {
			return 0, err
		}
		if !claimed {
			// Same rule as creation: a full classroom forces the waiting
			// list, it does not fail the item.
			newStatus = models.StatusPre
			wantsSeat = false
		}
	}
	if held && (turmaChanged || !wantsSeat) {
		if _, err := ap.arbiter.ReleaseSeat(ctx, *rec.TurmaID); err != nil {
			return 0, err
		}
	}

	rec.TurmaID = newTurmaID
	rec.Status = newStatus
	if p.Etapa != "" {
		rec.Etapa = strings.ToUpper(p.Etapa)
	}
	if p.AnoLetivo != 0 {
		rec.AnoLetivo = p.AnoLetivo
	}
	if err := ap.tx.WithContext(ctx).Save(&rec).Error; err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// ---- documento ----

func (ap *applier) applyDocumento(ctx context.Context, item ChangeItem, payload any) (uint, error) {
	switch item.Operation {
	case OpCreate:
		p := payload.(*DocumentoPayload)
		matriculaID, err := ap.resolveRef(EntityMatricula, p.MatriculaID)
		if err != nil {
			return 0, err
		}
		if err := ap.mustExist(ctx, &models.Matricula{}, EntityMatricula, matriculaID); err != nil {
			return 0, err
		}
		status := models.DocumentoStatus(p.Status)
		if status == "" {
			status = models.DocumentoPendente
		}
		rec := models.Documento{
			MatriculaID: matriculaID,
			Tipo:        p.Tipo,
			Status:      status,
			ObjectRef:   p.ObjectRef,
		}
		if err := ap.tx.WithContext(ctx).Create(&rec).Error; err != nil {
			return 0, err
		}
		return rec.ID, nil

	case OpUpdate:
		p := payload.(*DocumentoPayload)
		id, err := ap.resolveRef(EntityDocumento, item.IDLocal)
		if err != nil {
			return 0, err
		}
		var rec models.Documento
		if err := ap.tx.WithContext(ctx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("documento %d not found", id)
			}
			return 0, err
		}
		if err := ap.checkStale(EntityDocumento, item.IDLocal, rec.ID, rec.UpdatedAt); err != nil {
			return 0, err
		}
		rec.Tipo = p.Tipo
		if p.Status != "" {
			rec.Status = models.DocumentoStatus(p.Status)
		}
		if p.ObjectRef != "" {
			rec.ObjectRef = p.ObjectRef
		}
		if err := ap.tx.WithContext(ctx).Save(&rec).Error; err != nil {
			return 0, err
		}
		return rec.ID, nil

	case OpDelete:
		id, err := ap.resolveRef(EntityDocumento, item.IDLocal)
		if err != nil {
			return 0, err
		}
		res := ap.tx.WithContext(ctx).Delete(&models.Documento{}, id)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, fmt.Errorf("documento %d not found", id)
		}
		return id, nil
	}
	return 0, fmt.Errorf("unknown operation %q", item.Operation)
}

// ---- pendencia ----

func (ap *applier) applyPendencia(ctx context.Context, item ChangeItem, payload any) (uint, error) {
	switch item.Operation {
	case OpCreate:
		p := payload.(*PendenciaPayload)
		matriculaID, err := ap.resolveRef(EntityMatricula, p.MatriculaID)
		if err != nil {
			return 0, err
		}
		if err := ap.mustExist(ctx, &models.Matricula{}, EntityMatricula, matriculaID); err != nil {
			return 0, err
		}
		prazo, err := parseDate(p.PrazoEm)
		if err != nil {
			return 0, err
		}
		rec := models.Pendencia{
			MatriculaID: matriculaID,
			Descricao:   p.Descricao,
			Resolvida:   p.Resolvida,
			PrazoEm:     prazo,
		}
		if err := ap.tx.WithContext(ctx).Create(&rec).Error; err != nil {
			return 0, err
		}
		return rec.ID, nil

	case OpUpdate:
		p := payload.(*PendenciaPayload)
		id, err := ap.resolveRef(EntityPendencia, item.IDLocal)
		if err != nil {
			return 0, err
		}
		var rec models.Pendencia
		if err := ap.tx.WithContext(ctx).First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, fmt.Errorf("pendencia %d not found", id)
			}
			return 0, err
		}
		if err := ap.checkStale(EntityPendencia, item.IDLocal, rec.ID, rec.UpdatedAt); err != nil {
			return 0, err
		}
		prazo, err := parseDate(p.PrazoEm)
		if err != nil {
			return 0, err
		}
		rec.Descricao = p.Descricao
		rec.Resolvida = p.Resolvida
		rec.PrazoEm = prazo
		if err := ap.tx.WithContext(ctx).Save(&rec).Error; err != nil {
			return 0, err
		}
		return rec.ID, nil

	case OpDelete:
		id, err := ap.resolveRef(EntityPendencia, item.IDLocal)
		if err != nil {
			return 0, err
		}
		res := ap.tx.WithContext(ctx).Delete(&models.Pendencia{}, id)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, fmt.Errorf("pendencia %d not found", id)
		}
		return id, nil
	}
	return 0, fmt.Errorf("unknown operation %q", item.Operation)
}
