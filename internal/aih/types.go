package aih

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rfarias/sisaih/internal/storage"
)

var (
	ErrValidation               = errors.New("aih: dados inválidos")
	ErrDuplicateAIH             = errors.New("aih: número de AIH já cadastrado")
	ErrMovimentoForaDeOrdem     = errors.New("aih: movimentação deve alternar entre entrada e saída")
	ErrReaberturaNecessaria     = errors.New("aih: AIH finalizada exige confirmação de reabertura")
	ErrJustificativaObrigatoria = errors.New("aih: justificativa é obrigatória")
	ErrCredenciaisInvalidas     = errors.New("aih: usuário ou senha inválidos")
)

// ValidationError carries the human-readable problems found in a payload so
// callers can distinguish "your input was invalid" from "saving failed".
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "dados inválidos: " + strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type RegisterAIHRequest struct {
	NumeroAIH    string
	ValorInicial decimal.Decimal
	Competencia  string
	Atendimentos []string
	UsuarioID    int64
}

type MovementRequest struct {
	NumeroAIH        string
	Tipo             string
	StatusAIH        int
	ValorConta       *decimal.Decimal
	Competencia      string
	ProfMedicina     string
	ProfEnfermagem   string
	ProfFisioterapia string
	ProfBucomaxilo   string
	Observacoes      string
	UsuarioID        int64

	// Reopen confirms a resubmission: it allows a movement on a finalized
	// AIH (status 1 or 4) and suppresses the entry/exit alternation check.
	Reopen bool
}

type GlosaRequest struct {
	NumeroAIH    string
	Linha        string
	Tipo         string
	Profissional string
	Quantidade   int
	UsuarioID    int64
}

type DeleteAIHRequest struct {
	NumeroAIH     string
	Justificativa string
	UsuarioID     int64
	IPOrigem      string
	UserAgent     string
}

type DeleteMovementRequest struct {
	MovimentacaoID int64
	Justificativa  string
	UsuarioID      int64
	IPOrigem       string
	UserAgent      string
}

// AIHDetail is the full record as the audit screens consume it.
type AIHDetail struct {
	AIH           storage.AIH
	Atendimentos  []storage.Atendimento
	Movimentacoes []storage.Movimentacao
	Glosas        []storage.Glosa
}

// ValorGlosado is the total deducted so far.
func (d *AIHDetail) ValorGlosado() decimal.Decimal {
	return d.AIH.ValorInicial.Sub(d.AIH.ValorAtual)
}

type DashboardStats struct {
	Competencia       string
	TotalAIHs         int64
	EmProcessamento   int64
	Finalizadas       int64
	ValorInicialTotal decimal.Decimal
	ValorAtualTotal   decimal.Decimal
	ValorGlosado      decimal.Decimal
}
