package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound   = errors.New("storage: not found")
	ErrPoolClosed = errors.New("storage: connection pool closed")
)

// AIH status lifecycle. 1 and 4 are soft-terminal: a confirmed reopening may
// still append movements to them.
const (
	StatusFinalizadaDireta       = 1
	StatusAtivaIndireta          = 2
	StatusAtivaDiscussao         = 3
	StatusFinalizadaPosDiscussao = 4
)

// Movement direction. Movements alternate between the two for a given AIH.
const (
	TipoEntradaSUS    = "entrada_sus"
	TipoSaidaHospital = "saida_hospital"
)

type AIH struct {
	ID                int64
	NumeroAIH         string
	ValorInicial      decimal.Decimal
	ValorAtual        decimal.Decimal
	Status            int
	Competencia       string
	CriadoEm          time.Time
	UsuarioCadastroID int64
}

type Atendimento struct {
	ID                int64
	AIHID             int64
	NumeroAtendimento string
}

type Movimentacao struct {
	ID               int64
	AIHID            int64
	Tipo             string
	DataMovimentacao time.Time
	UsuarioID        int64
	ValorConta       *decimal.Decimal
	Competencia      string
	ProfMedicina     string
	ProfEnfermagem   string
	ProfFisioterapia string
	ProfBucomaxilo   string
	StatusAIH        int
	Observacoes      string
}

type Glosa struct {
	ID           int64
	AIHID        int64
	Linha        string
	Tipo         string
	Profissional string
	Quantidade   int
	Ativa        bool
	CriadoEm     time.Time
}

type Usuario struct {
	ID        int64
	Nome      string
	Matricula string
	SenhaHash string
	CriadoEm  time.Time
}

type Administrador struct {
	ID              int64
	Usuario         string
	SenhaHash       string
	CriadoEm        time.Time
	UltimaAlteracao time.Time
}

type Profissional struct {
	ID            int64
	Nome          string
	Especialidade string
}

type TipoGlosa struct {
	ID        int64
	Descricao string
}

type LogAcesso struct {
	ID        int64
	UsuarioID int64
	Acao      string
	DataHora  time.Time
}

type LogExclusao struct {
	ID             int64
	TipoExclusao   string
	UsuarioID      int64
	DadosExcluidos string
	Justificativa  string
	IPOrigem       string
	UserAgent      string
	DataExclusao   time.Time
}

// Row is a result row keyed by column name. Integer and float columns come
// back as int64/float64, text as string.
type Row map[string]any

// Result reports the outcome of a mutating statement.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Op is one statement of a multi-statement transaction.
type Op struct {
	SQL    string
	Params []any
}

// Stats aggregates the counters exposed to the operator surface.
type Stats struct {
	TotalAIHs          int64
	TotalMovimentacoes int64
	TotalGlosasAtivas  int64
	TotalUsuarios      int64
	TotalLogs          int64
	DBSizeBytes        int64
	WALSizeBytes       int64
	CacheEntries       int
	PoolSize           int
	PoolIdle           int
	PoolInUse          int
	PoolWaiting        int
}
