package aih

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rfarias/sisaih/internal/storage"
)

const minJustificativa = 10

// deletionSnapshot is what gets serialized into logs_exclusao.dados_excluidos.
// The snapshot id ties multi-row deletions (an AIH plus its children) to one
// audit event.
type deletionSnapshot struct {
	SnapshotID string         `json:"snapshot_id"`
	Tabela     string         `json:"tabela"`
	Registro   map[string]any `json:"registro"`
	Filhos     map[string]any `json:"filhos,omitempty"`
}

// DeleteAIH removes a record and all of its children, after writing a full
// JSON snapshot to the deletion audit log. Deletion is irreversible apart
// from that snapshot, so a substantive justification is mandatory.
func (s *Service) DeleteAIH(ctx context.Context, req DeleteAIHRequest) error {
	if len(strings.TrimSpace(req.Justificativa)) < minJustificativa {
		return ErrJustificativaObrigatoria
	}

	row, err := s.store.Get(ctx, `SELECT * FROM aihs WHERE numero_aih = ?`, []any{req.NumeroAIH}, storage.TierNone)
	if err != nil {
		return err
	}
	if row == nil {
		return storage.ErrNotFound
	}
	aihID := rowInt64(row, "id")

	atendimentos, err := s.store.All(ctx,
		`SELECT * FROM atendimentos WHERE aih_id = ?`, []any{aihID}, storage.TierNone)
	if err != nil {
		return err
	}
	movimentacoes, err := s.store.All(ctx,
		`SELECT * FROM movimentacoes WHERE aih_id = ?`, []any{aihID}, storage.TierNone)
	if err != nil {
		return err
	}
	glosas, err := s.store.All(ctx,
		`SELECT * FROM glosas WHERE aih_id = ?`, []any{aihID}, storage.TierNone)
	if err != nil {
		return err
	}

	snapshot := deletionSnapshot{
		SnapshotID: uuid.NewString(),
		Tabela:     "aihs",
		Registro:   row,
		Filhos: map[string]any{
			"atendimentos":  atendimentos,
			"movimentacoes": movimentacoes,
			"glosas":        glosas,
		},
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("serialize deletion snapshot: %w", err)
	}

	err = s.store.WithTransaction(ctx, func(tx *sql.Conn) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO logs_exclusao (tipo_exclusao, usuario_id, dados_excluidos, justificativa, ip_origem, user_agent)
			VALUES (?, ?, ?, ?, ?, ?)
		`, "aih", req.UsuarioID, string(payload), req.Justificativa,
			nullableString(req.IPOrigem), nullableString(req.UserAgent)); err != nil {
			return err
		}

		for _, stmt := range []string{
			`DELETE FROM glosas WHERE aih_id = ?`,
			`DELETE FROM movimentacoes WHERE aih_id = ?`,
			`DELETE FROM atendimentos WHERE aih_id = ?`,
			`DELETE FROM aihs WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, aihID); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO logs_acesso (usuario_id, acao) VALUES (?, ?)`,
			req.UsuarioID, "Exclusão da AIH "+req.NumeroAIH)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete aih: %w", err)
	}

	s.store.ClearCache("")
	s.logger.Info("AIH excluída",
		"numero_aih", req.NumeroAIH, "usuario_id", req.UsuarioID, "snapshot_id", snapshot.SnapshotID)
	return nil
}

// DeleteMovement removes a single movement, snapshotting it first. The parent
// AIH's status and value are not rewound; the operator records a corrective
// movement when needed.
func (s *Service) DeleteMovement(ctx context.Context, req DeleteMovementRequest) error {
	if len(strings.TrimSpace(req.Justificativa)) < minJustificativa {
		return ErrJustificativaObrigatoria
	}

	row, err := s.store.Get(ctx,
		`SELECT * FROM movimentacoes WHERE id = ?`, []any{req.MovimentacaoID}, storage.TierNone)
	if err != nil {
		return err
	}
	if row == nil {
		return storage.ErrNotFound
	}

	snapshot := deletionSnapshot{
		SnapshotID: uuid.NewString(),
		Tabela:     "movimentacoes",
		Registro:   row,
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("serialize deletion snapshot: %w", err)
	}

	err = s.store.WithTransaction(ctx, func(tx *sql.Conn) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO logs_exclusao (tipo_exclusao, usuario_id, dados_excluidos, justificativa, ip_origem, user_agent)
			VALUES (?, ?, ?, ?, ?, ?)
		`, "movimentacao", req.UsuarioID, string(payload), req.Justificativa,
			nullableString(req.IPOrigem), nullableString(req.UserAgent)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM movimentacoes WHERE id = ?`, req.MovimentacaoID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO logs_acesso (usuario_id, acao) VALUES (?, ?)`,
			req.UsuarioID, fmt.Sprintf("Exclusão da movimentação %d", req.MovimentacaoID))
		return err
	})
	if err != nil {
		return fmt.Errorf("delete movement: %w", err)
	}

	s.store.ClearCache("")
	s.logger.Info("movimentação excluída",
		"movimentacao_id", req.MovimentacaoID, "usuario_id", req.UsuarioID, "snapshot_id", snapshot.SnapshotID)
	return nil
}
