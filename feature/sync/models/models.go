package models

import (
	"time"
)

// MatriculaStatus is the lifecycle status of an enrollment.
type MatriculaStatus string

const (
	// StatusPre marks a pre-enrollment: no classroom seat held yet, either
	// because no classroom was chosen or because the classroom was full.
	StatusPre MatriculaStatus = "pre"
	// StatusPendenteDoc marks an enrollment holding a seat but still waiting
	// for required documents.
	StatusPendenteDoc MatriculaStatus = "pendente_doc"
	// StatusCompleto marks an enrollment with all documents delivered.
	StatusCompleto MatriculaStatus = "completo"
	// StatusConcluido marks a finished (archived) enrollment.
	StatusConcluido MatriculaStatus = "concluido"
)

// Responsavel is a guardian. The CPF (Brazilian tax id) is unique across the
// authoritative store; duplicate submissions surface as item conflicts.
type Responsavel struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Nome      string    `gorm:"size:120;not null" json:"nome"`
	CPF       string    `gorm:"size:14;uniqueIndex;not null" json:"cpf"`
	Telefone  string    `gorm:"size:20" json:"telefone"`
	Email     string    `gorm:"size:120" json:"email"`
	Endereco  string    `gorm:"size:255" json:"endereco"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Aluno is a student. CPF is optional for minors, unique when present.
type Aluno struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Nome           string     `gorm:"size:120;not null" json:"nome"`
	DataNascimento *time.Time `json:"data_nascimento"`
	CPF            *string    `gorm:"size:14;uniqueIndex" json:"cpf"`
	Sexo           string     `gorm:"size:1" json:"sexo"`
	Observacoes    string     `gorm:"size:500" json:"observacoes"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Turma is a classroom. VagasDisponiveis is mutated exclusively through the
// capacity arbiter's conditional updates, keeping 0 <= vagas <= capacidade.
type Turma struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Nome             string    `gorm:"size:60;not null" json:"nome"`
	Etapa            string    `gorm:"size:20;not null" json:"etapa"`
	Turno            string    `gorm:"size:20" json:"turno"`
	AnoLetivo        int       `gorm:"not null" json:"ano_letivo"`
	Capacidade       int       `gorm:"not null" json:"capacidade"`
	VagasDisponiveis int       `gorm:"not null" json:"vagas_disponiveis"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Matricula is an enrollment. Protocolo is the human-facing reference,
// unique by database index; the sequencer retries on collisions.
type Matricula struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Protocolo     string          `gorm:"size:32;uniqueIndex;not null" json:"protocolo"`
	AlunoID       uint            `gorm:"not null;index" json:"aluno_id"`
	ResponsavelID uint            `gorm:"not null;index" json:"responsavel_id"`
	TurmaID       *uint           `gorm:"index" json:"turma_id"`
	Etapa         string          `gorm:"size:20;not null" json:"etapa"`
	AnoLetivo     int             `gorm:"not null" json:"ano_letivo"`
	Status        MatriculaStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// DocumentoStatus tracks document delivery.
type DocumentoStatus string

const (
	DocumentoPendente DocumentoStatus = "pendente"
	DocumentoEntregue DocumentoStatus = "entregue"
	DocumentoValidado DocumentoStatus = "validado"
)

// Documento is a required-document record attached to an enrollment. The
// actual file lives in an external document store; only the reference is
// synced here.
type Documento struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	MatriculaID uint            `gorm:"not null;index" json:"matricula_id"`
	Tipo        string          `gorm:"size:40;not null" json:"tipo"`
	Status      DocumentoStatus `gorm:"size:16;not null" json:"status"`
	ObjectRef   string          `gorm:"size:255" json:"object_ref"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Pendencia is an open issue blocking an enrollment from completing.
type Pendencia struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	MatriculaID uint       `gorm:"not null;index" json:"matricula_id"`
	Descricao   string     `gorm:"size:255;not null" json:"descricao"`
	Resolvida   bool       `gorm:"not null;default:false" json:"resolvida"`
	PrazoEm     *time.Time `json:"prazo_em"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
