package aih

import (
	"context"
	"fmt"

	"github.com/rfarias/sisaih/internal/storage"
)

// Reference data: the professionals and deduction-type catalogs the audit
// forms draw their dropdowns from. Reads go through the medium cache tier
// since these tables change rarely.

func (s *Service) AddProfissional(ctx context.Context, nome, especialidade string) (*storage.Profissional, error) {
	if nome == "" || especialidade == "" {
		return nil, &ValidationError{Messages: []string{"Nome e especialidade são obrigatórios"}}
	}
	res, err := s.store.Exec(ctx,
		`INSERT INTO profissionais (nome, especialidade) VALUES (?, ?)`, nome, especialidade)
	if err != nil {
		return nil, fmt.Errorf("add profissional: %w", err)
	}
	s.store.ClearCache("profissionais")
	return &storage.Profissional{ID: res.LastInsertID, Nome: nome, Especialidade: especialidade}, nil
}

func (s *Service) RemoveProfissional(ctx context.Context, id int64) error {
	res, err := s.store.Exec(ctx, `DELETE FROM profissionais WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove profissional: %w", err)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	s.store.ClearCache("profissionais")
	return nil
}

func (s *Service) ListProfissionais(ctx context.Context, especialidade string) ([]storage.Profissional, error) {
	query := `SELECT id, nome, especialidade FROM profissionais ORDER BY nome`
	var params []any
	if especialidade != "" {
		query = `SELECT id, nome, especialidade FROM profissionais WHERE especialidade = ? ORDER BY nome`
		params = []any{especialidade}
	}
	rows, err := s.store.All(ctx, query, params, storage.TierMedium)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Profissional, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.Profissional{
			ID:            rowInt64(r, "id"),
			Nome:          rowString(r, "nome"),
			Especialidade: rowString(r, "especialidade"),
		})
	}
	return out, nil
}

func (s *Service) AddTipoGlosa(ctx context.Context, descricao string) (*storage.TipoGlosa, error) {
	if descricao == "" {
		return nil, &ValidationError{Messages: []string{"Descrição é obrigatória"}}
	}
	res, err := s.store.Exec(ctx,
		`INSERT INTO tipos_glosa (descricao) VALUES (?)`, descricao)
	if err != nil {
		return nil, fmt.Errorf("add tipo de glosa: %w", err)
	}
	s.store.ClearCache("tipos_glosa")
	return &storage.TipoGlosa{ID: res.LastInsertID, Descricao: descricao}, nil
}

func (s *Service) RemoveTipoGlosa(ctx context.Context, id int64) error {
	res, err := s.store.Exec(ctx, `DELETE FROM tipos_glosa WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove tipo de glosa: %w", err)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	s.store.ClearCache("tipos_glosa")
	return nil
}

func (s *Service) ListTiposGlosa(ctx context.Context) ([]storage.TipoGlosa, error) {
	rows, err := s.store.All(ctx,
		`SELECT id, descricao FROM tipos_glosa ORDER BY descricao`, nil, storage.TierMedium)
	if err != nil {
		return nil, err
	}
	out := make([]storage.TipoGlosa, 0, len(rows))
	for _, r := range rows {
		out = append(out, storage.TipoGlosa{
			ID:        rowInt64(r, "id"),
			Descricao: rowString(r, "descricao"),
		})
	}
	return out, nil
}
