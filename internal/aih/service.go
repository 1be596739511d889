package aih

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rfarias/sisaih/internal/storage"
)

// Service implements the audit workflow on top of the data-access facade.
// It trusts the caller to have authenticated the acting user already.
type Service struct {
	store  *storage.Store
	logger *slog.Logger
}

func NewService(store *storage.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// RegisterAIH validates and stores a new record with its encounters, as one
// atomic unit. New records start in status 3 (em discussão) with the current
// value equal to the initial value.
func (s *Service) RegisterAIH(ctx context.Context, req RegisterAIHRequest) (*storage.AIH, error) {
	problems := storage.ValidateAIH(storage.AIHInput{
		NumeroAIH:    req.NumeroAIH,
		ValorInicial: req.ValorInicial,
		Competencia:  req.Competencia,
		Atendimentos: req.Atendimentos,
	})
	if len(problems) > 0 {
		return nil, &ValidationError{Messages: problems}
	}

	existing, err := s.store.Get(ctx, `SELECT id FROM aihs WHERE numero_aih = ?`, []any{req.NumeroAIH}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateAIH
	}

	valor := req.ValorInicial.InexactFloat64()
	record := &storage.AIH{
		NumeroAIH:         req.NumeroAIH,
		ValorInicial:      req.ValorInicial,
		ValorAtual:        req.ValorInicial,
		Status:            storage.StatusAtivaDiscussao,
		Competencia:       req.Competencia,
		UsuarioCadastroID: req.UsuarioID,
	}

	err = s.store.WithTransaction(ctx, func(tx *sql.Conn) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO aihs (numero_aih, valor_inicial, valor_atual, status, competencia, usuario_cadastro_id)
			VALUES (?, ?, ?, ?, ?, ?)
		`, req.NumeroAIH, valor, valor, storage.StatusAtivaDiscussao, req.Competencia, req.UsuarioID)
		if err != nil {
			return err
		}
		record.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, numero := range req.Atendimentos {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO atendimentos (aih_id, numero_atendimento) VALUES (?, ?)`,
				record.ID, numero); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO logs_acesso (usuario_id, acao) VALUES (?, ?)`,
			req.UsuarioID, "Cadastro de AIH "+req.NumeroAIH)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register aih: %w", err)
	}

	s.logger.Info("AIH cadastrada", "numero_aih", req.NumeroAIH, "usuario_id", req.UsuarioID)
	return record, nil
}

// GetAIH returns the full record: header (quick-tier cached), encounters,
// movements newest-first and active deductions.
func (s *Service) GetAIH(ctx context.Context, numero string) (*AIHDetail, error) {
	return s.loadDetail(ctx, numero, storage.TierQuick)
}

func (s *Service) loadDetail(ctx context.Context, numero string, tier storage.Tier) (*AIHDetail, error) {
	row, err := s.store.Get(ctx, `SELECT * FROM aihs WHERE numero_aih = ?`, []any{numero}, tier)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, storage.ErrNotFound
	}
	record := aihFromRow(row)

	detail := &AIHDetail{AIH: record}

	atendRows, err := s.store.All(ctx,
		`SELECT id, aih_id, numero_atendimento FROM atendimentos WHERE aih_id = ?`,
		[]any{record.ID}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	for _, r := range atendRows {
		detail.Atendimentos = append(detail.Atendimentos, storage.Atendimento{
			ID:                rowInt64(r, "id"),
			AIHID:             rowInt64(r, "aih_id"),
			NumeroAtendimento: rowString(r, "numero_atendimento"),
		})
	}

	movRows, err := s.store.All(ctx,
		`SELECT * FROM movimentacoes WHERE aih_id = ? ORDER BY data_movimentacao DESC, id DESC`,
		[]any{record.ID}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	for _, r := range movRows {
		detail.Movimentacoes = append(detail.Movimentacoes, movimentacaoFromRow(r))
	}

	glosaRows, err := s.store.All(ctx,
		`SELECT * FROM glosas WHERE aih_id = ? AND ativa = 1 ORDER BY criado_em DESC`,
		[]any{record.ID}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	for _, r := range glosaRows {
		detail.Glosas = append(detail.Glosas, glosaFromRow(r))
	}

	return detail, nil
}

// AddMovement appends one audit step. Movements must alternate entry/exit
// relative to the latest movement, and finalized records (status 1 or 4)
// only accept new movements when the operator confirms a reopening; both
// checks are skipped when req.Reopen is set.
func (s *Service) AddMovement(ctx context.Context, req MovementRequest) (*storage.Movimentacao, error) {
	problems := storage.ValidateMovimentacao(storage.MovimentacaoInput{
		Tipo:       req.Tipo,
		StatusAIH:  req.StatusAIH,
		ValorConta: req.ValorConta,
	})
	if len(problems) > 0 {
		return nil, &ValidationError{Messages: problems}
	}

	var valorConta any
	if req.ValorConta != nil {
		valorConta = req.ValorConta.InexactFloat64()
	}

	mov := &storage.Movimentacao{
		Tipo:             req.Tipo,
		UsuarioID:        req.UsuarioID,
		ValorConta:       req.ValorConta,
		Competencia:      req.Competencia,
		ProfMedicina:     req.ProfMedicina,
		ProfEnfermagem:   req.ProfEnfermagem,
		ProfFisioterapia: req.ProfFisioterapia,
		ProfBucomaxilo:   req.ProfBucomaxilo,
		StatusAIH:        req.StatusAIH,
		Observacoes:      req.Observacoes,
	}

	// Record load and rule checks run inside the immediate transaction:
	// concurrent writers serialize on BEGIN IMMEDIATE, so two movements with
	// the same tipo cannot both pass the alternation check.
	err := s.store.WithTransaction(ctx, func(tx *sql.Conn) error {
		var (
			aihID  int64
			status int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT id, status FROM aihs WHERE numero_aih = ?`, req.NumeroAIH).
			Scan(&aihID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		mov.AIHID = aihID

		if !req.Reopen {
			if status == storage.StatusFinalizadaDireta || status == storage.StatusFinalizadaPosDiscussao {
				return ErrReaberturaNecessaria
			}
			var latestTipo string
			err := tx.QueryRowContext(ctx,
				`SELECT tipo FROM movimentacoes WHERE aih_id = ? ORDER BY data_movimentacao DESC, id DESC LIMIT 1`,
				aihID).Scan(&latestTipo)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if latestTipo == req.Tipo {
				return ErrMovimentoForaDeOrdem
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO movimentacoes (
				aih_id, tipo, usuario_id, valor_conta, competencia,
				prof_medicina, prof_enfermagem, prof_fisioterapia, prof_bucomaxilo,
				status_aih, observacoes
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, aihID, req.Tipo, req.UsuarioID, valorConta, req.Competencia,
			nullableString(req.ProfMedicina), nullableString(req.ProfEnfermagem),
			nullableString(req.ProfFisioterapia), nullableString(req.ProfBucomaxilo),
			req.StatusAIH, nullableString(req.Observacoes))
		if err != nil {
			return err
		}
		mov.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		if req.ValorConta != nil {
			_, err = tx.ExecContext(ctx, `UPDATE aihs SET status = ?, valor_atual = ? WHERE id = ?`,
				req.StatusAIH, req.ValorConta.InexactFloat64(), aihID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE aihs SET status = ? WHERE id = ?`,
				req.StatusAIH, aihID)
		}
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO logs_acesso (usuario_id, acao) VALUES (?, ?)`,
			req.UsuarioID, "Movimentação da AIH "+req.NumeroAIH)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add movement: %w", err)
	}

	// Cached reads keyed on this número now describe a superseded status.
	s.store.ClearCache(req.NumeroAIH)

	s.logger.Info("movimentação registrada",
		"numero_aih", req.NumeroAIH, "tipo", req.Tipo, "status", req.StatusAIH)
	return mov, nil
}

// LogAccess appends one entry to the access audit trail.
func (s *Service) LogAccess(ctx context.Context, usuarioID int64, acao string) error {
	_, err := s.store.Exec(ctx, `INSERT INTO logs_acesso (usuario_id, acao) VALUES (?, ?)`, usuarioID, acao)
	if err != nil {
		return fmt.Errorf("log access: %w", err)
	}
	return nil
}

func aihFromRow(row storage.Row) storage.AIH {
	return storage.AIH{
		ID:                rowInt64(row, "id"),
		NumeroAIH:         rowString(row, "numero_aih"),
		ValorInicial:      rowDecimal(row, "valor_inicial"),
		ValorAtual:        rowDecimal(row, "valor_atual"),
		Status:            int(rowInt64(row, "status")),
		Competencia:       rowString(row, "competencia"),
		CriadoEm:          rowTime(row, "criado_em"),
		UsuarioCadastroID: rowInt64(row, "usuario_cadastro_id"),
	}
}

func movimentacaoFromRow(row storage.Row) storage.Movimentacao {
	mov := storage.Movimentacao{
		ID:               rowInt64(row, "id"),
		AIHID:            rowInt64(row, "aih_id"),
		Tipo:             rowString(row, "tipo"),
		DataMovimentacao: rowTime(row, "data_movimentacao"),
		UsuarioID:        rowInt64(row, "usuario_id"),
		Competencia:      rowString(row, "competencia"),
		ProfMedicina:     rowString(row, "prof_medicina"),
		ProfEnfermagem:   rowString(row, "prof_enfermagem"),
		ProfFisioterapia: rowString(row, "prof_fisioterapia"),
		ProfBucomaxilo:   rowString(row, "prof_bucomaxilo"),
		StatusAIH:        int(rowInt64(row, "status_aih")),
		Observacoes:      rowString(row, "observacoes"),
	}
	if row["valor_conta"] != nil {
		valor := rowDecimal(row, "valor_conta")
		mov.ValorConta = &valor
	}
	return mov
}

func glosaFromRow(row storage.Row) storage.Glosa {
	return storage.Glosa{
		ID:           rowInt64(row, "id"),
		AIHID:        rowInt64(row, "aih_id"),
		Linha:        rowString(row, "linha"),
		Tipo:         rowString(row, "tipo"),
		Profissional: rowString(row, "profissional"),
		Quantidade:   int(rowInt64(row, "quantidade")),
		Ativa:        rowInt64(row, "ativa") == 1,
		CriadoEm:     rowTime(row, "criado_em"),
	}
}

func rowString(row storage.Row, col string) string {
	if v, ok := row[col].(string); ok {
		return v
	}
	return ""
}

func rowInt64(row storage.Row, col string) int64 {
	switch v := row[col].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func rowDecimal(row storage.Row, col string) decimal.Decimal {
	switch v := row[col].(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.Zero
}

func rowTime(row storage.Row, col string) time.Time {
	raw, ok := row[col].(string)
	if !ok {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
