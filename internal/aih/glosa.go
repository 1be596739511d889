package aih

import (
	"context"
	"fmt"

	"github.com/rfarias/sisaih/internal/storage"
)

// AddGlosa attaches a deduction line to an existing record. Deductions never
// carry a monetary value themselves; the financial effect arrives with the
// next movement's valor_conta.
func (s *Service) AddGlosa(ctx context.Context, req GlosaRequest) (*storage.Glosa, error) {
	var problems []string
	if req.Linha == "" {
		problems = append(problems, "Linha da glosa é obrigatória")
	}
	if req.Tipo == "" {
		problems = append(problems, "Tipo da glosa é obrigatório")
	}
	if req.Profissional == "" {
		problems = append(problems, "Profissional da glosa é obrigatório")
	}
	if req.Quantidade < 1 {
		req.Quantidade = 1
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Messages: problems}
	}

	row, err := s.store.Get(ctx, `SELECT id FROM aihs WHERE numero_aih = ?`, []any{req.NumeroAIH}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, storage.ErrNotFound
	}
	aihID := rowInt64(row, "id")

	res, err := s.store.Exec(ctx, `
		INSERT INTO glosas (aih_id, linha, tipo, profissional, quantidade, ativa)
		VALUES (?, ?, ?, ?, ?, 1)
	`, aihID, req.Linha, req.Tipo, req.Profissional, req.Quantidade)
	if err != nil {
		return nil, fmt.Errorf("add glosa: %w", err)
	}

	s.logger.Info("glosa registrada",
		"numero_aih", req.NumeroAIH, "tipo", req.Tipo, "profissional", req.Profissional)

	return &storage.Glosa{
		ID:           res.LastInsertID,
		AIHID:        aihID,
		Linha:        req.Linha,
		Tipo:         req.Tipo,
		Profissional: req.Profissional,
		Quantidade:   req.Quantidade,
		Ativa:        true,
	}, nil
}

// DeactivateGlosa resolves a deduction. The row stays for history; only the
// ativa flag flips.
func (s *Service) DeactivateGlosa(ctx context.Context, glosaID, usuarioID int64) error {
	res, err := s.store.Exec(ctx, `UPDATE glosas SET ativa = 0 WHERE id = ? AND ativa = 1`, glosaID)
	if err != nil {
		return fmt.Errorf("deactivate glosa: %w", err)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return s.LogAccess(ctx, usuarioID, fmt.Sprintf("Resolução da glosa %d", glosaID))
}

// ListGlosas returns the active deductions for a record, newest first.
func (s *Service) ListGlosas(ctx context.Context, numeroAIH string) ([]storage.Glosa, error) {
	rows, err := s.store.All(ctx, `
		SELECT g.* FROM glosas g
		JOIN aihs a ON a.id = g.aih_id
		WHERE a.numero_aih = ? AND g.ativa = 1
		ORDER BY g.criado_em DESC
	`, []any{numeroAIH}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	glosas := make([]storage.Glosa, 0, len(rows))
	for _, r := range rows {
		glosas = append(glosas, glosaFromRow(r))
	}
	return glosas, nil
}
