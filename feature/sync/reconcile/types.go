package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// EntityType identifies which entity a change item targets.
type EntityType string

const (
	EntityResponsavel EntityType = "responsavel"
	EntityAluno       EntityType = "aluno"
	EntityTurma       EntityType = "turma"
	EntityMatricula   EntityType = "matricula"
	EntityDocumento   EntityType = "documento"
	EntityPendencia   EntityType = "pendencia"
)

// Operation is the kind of change recorded by the device.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ChangeItem is one offline change: an operation against one entity,
// identified by a client-local id. Data carries the entity-specific payload
// and is decoded into a typed variant by DecodePayload.
type ChangeItem struct {
	Entity    EntityType      `json:"entity"`
	Operation Operation       `json:"operation"`
	IDLocal   string          `json:"id_local"`
	Data      json.RawMessage `json:"data"`
}

// Batch is an ordered set of change items from one device submission.
// Items are processed strictly in order so later items can reference the
// local ids of earlier ones.
type Batch struct {
	ID       string
	DeviceID string
	LastSync *time.Time
	Items    []ChangeItem
}

// IdMapping records the canonical id assigned to one client-local id during
// this batch's reconciliation.
type IdMapping struct {
	Entity   EntityType `json:"entity"`
	IDLocal  string     `json:"id_local"`
	IDGlobal uint       `json:"id_global"`
}

// Conflict records a terminal per-item failure. It never blocks sibling
// items of the same batch.
type Conflict struct {
	Entity  EntityType `json:"entity"`
	IDLocal string     `json:"id_local"`
	Error   string     `json:"error"`
}

// Result is the accumulated outcome of reconciling one batch: exactly one
// mapping or one conflict per item.
type Result struct {
	Mappings  []IdMapping `json:"mappings"`
	Conflicts []Conflict  `json:"conflicts"`
}

// validate checks the typed payload variants below.
var validate = validator.New()

// ResponsavelPayload is the guardian variant of ChangeItem.Data.
type ResponsavelPayload struct {
	Nome     string `json:"nome" validate:"required,max=120"`
	CPF      string `json:"cpf" validate:"required,max=14"`
	Telefone string `json:"telefone" validate:"max=20"`
	Email    string `json:"email" validate:"omitempty,email,max=120"`
	Endereco string `json:"endereco" validate:"max=255"`
}

// AlunoPayload is the student variant of ChangeItem.Data.
type AlunoPayload struct {
	Nome           string `json:"nome" validate:"required,max=120"`
	DataNascimento string `json:"data_nascimento" validate:"omitempty,datetime=2006-01-02"`
	CPF            string `json:"cpf" validate:"max=14"`
	Sexo           string `json:"sexo" validate:"omitempty,oneof=M F"`
	Observacoes    string `json:"observacoes" validate:"max=500"`
}

// TurmaPayload is the classroom variant of ChangeItem.Data.
type TurmaPayload struct {
	Nome       string `json:"nome" validate:"required,max=60"`
	Etapa      string `json:"etapa" validate:"required,max=20"`
	Turno      string `json:"turno" validate:"max=20"`
	AnoLetivo  int    `json:"ano_letivo" validate:"required,gte=2000,lte=2100"`
	Capacidade int    `json:"capacidade" validate:"required,gt=0"`
}

// MatriculaPayload is the enrollment variant of ChangeItem.Data. The id
// fields are references: either a local id minted earlier in the same batch
// or an already-canonical numeric id from a prior sync.
type MatriculaPayload struct {
	AlunoID       string `json:"aluno_id" validate:"required"`
	ResponsavelID string `json:"responsavel_id" validate:"required"`
	TurmaID       string `json:"turma_id"`
	Etapa         string `json:"etapa" validate:"required,max=20"`
	AnoLetivo     int    `json:"ano_letivo" validate:"required,gte=2000,lte=2100"`
	Status        string `json:"status" validate:"omitempty,oneof=pre pendente_doc completo concluido"`
}

// DocumentoPayload is the document-record variant of ChangeItem.Data.
type DocumentoPayload struct {
	MatriculaID string `json:"matricula_id" validate:"required"`
	Tipo        string `json:"tipo" validate:"required,max=40"`
	Status      string `json:"status" validate:"omitempty,oneof=pendente entregue validado"`
	ObjectRef   string `json:"object_ref" validate:"max=255"`
}

// PendenciaPayload is the open-issue variant of ChangeItem.Data.
type PendenciaPayload struct {
	MatriculaID string `json:"matricula_id" validate:"required"`
	Descricao   string `json:"descricao" validate:"required,max=255"`
	Resolvida   bool   `json:"resolvida"`
	PrazoEm     string `json:"prazo_em" validate:"omitempty,datetime=2006-01-02"`
}

// DecodePayload unmarshals and validates the typed payload for an item.
// Delete operations carry no payload and return nil.
func DecodePayload(item ChangeItem) (any, error) {
	if item.Operation == OpDelete {
		return nil, nil
	}

	var payload any
	switch item.Entity {
	case EntityResponsavel:
		payload = &ResponsavelPayload{}
	case EntityAluno:
		payload = &AlunoPayload{}
	case EntityTurma:
		payload = &TurmaPayload{}
	case EntityMatricula:
		payload = &MatriculaPayload{}
	case EntityDocumento:
		payload = &DocumentoPayload{}
	case EntityPendencia:
		payload = &PendenciaPayload{}
	default:
		return nil, fmt.Errorf("unknown entity %q", item.Entity)
	}

	if len(item.Data) == 0 {
		return nil, fmt.Errorf("missing payload for %s %s", item.Operation, item.Entity)
	}
	if err := json.Unmarshal(item.Data, payload); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return payload, nil
}

// ValidItem reports structural problems with an item that make the whole
// submission invalid (unknown entity, unknown operation, missing local id).
func ValidItem(item ChangeItem) error {
	switch item.Entity {
	case EntityResponsavel, EntityAluno, EntityTurma, EntityMatricula, EntityDocumento, EntityPendencia:
	default:
		return fmt.Errorf("unknown entity %q", item.Entity)
	}
	switch item.Operation {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown operation %q", item.Operation)
	}
	if item.IDLocal == "" {
		return fmt.Errorf("missing id_local")
	}
	return nil
}
