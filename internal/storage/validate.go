package storage

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var competenciaPattern = regexp.MustCompile(`^\d{2}/\d{4}$`)

// AIHInput is the registration payload shape checked before storage.
type AIHInput struct {
	NumeroAIH    string
	ValorInicial decimal.Decimal
	Competencia  string
	Atendimentos []string
}

// MovimentacaoInput is the movement payload shape checked before storage.
type MovimentacaoInput struct {
	Tipo       string
	StatusAIH  int
	ValorConta *decimal.Decimal
}

// ValidateAIH checks the shape of a registration payload and returns
// human-readable problems; an empty slice means valid. Pure: no storage
// access, no side effects.
func ValidateAIH(in AIHInput) []string {
	var errs []string

	if strings.TrimSpace(in.NumeroAIH) == "" {
		errs = append(errs, "Número da AIH é obrigatório")
	}

	if in.ValorInicial.Sign() <= 0 {
		errs = append(errs, "Valor inicial deve ser um número positivo")
	}

	if !validCompetencia(in.Competencia) {
		errs = append(errs, "Competência deve estar no formato MM/AAAA")
	}

	if len(in.Atendimentos) == 0 {
		errs = append(errs, "Pelo menos um atendimento deve ser informado")
	}

	return errs
}

// ValidateMovimentacao checks the shape of a movement payload; empty slice
// means valid.
func ValidateMovimentacao(in MovimentacaoInput) []string {
	var errs []string

	if in.Tipo != TipoEntradaSUS && in.Tipo != TipoSaidaHospital {
		errs = append(errs, "Tipo de movimentação inválido")
	}

	switch in.StatusAIH {
	case StatusFinalizadaDireta, StatusAtivaIndireta, StatusAtivaDiscussao, StatusFinalizadaPosDiscussao:
	default:
		errs = append(errs, "Status da AIH inválido")
	}

	if in.ValorConta != nil && in.ValorConta.Sign() < 0 {
		errs = append(errs, "Valor da conta deve ser um número não negativo")
	}

	return errs
}

func validCompetencia(competencia string) bool {
	if !competenciaPattern.MatchString(competencia) {
		return false
	}
	month, err := strconv.Atoi(competencia[:2])
	if err != nil {
		return false
	}
	return month >= 1 && month <= 12
}
