package aih

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rfarias/sisaih/internal/storage"
)

// Dashboard returns the aggregate picture for one competência, or for the
// whole base when competencia is empty. The queries ride the dashboard cache
// tier, so figures may lag writes by up to its TTL.
func (s *Service) Dashboard(ctx context.Context, competencia string) (*DashboardStats, error) {
	where := ""
	var params []any
	if competencia != "" {
		where = " WHERE competencia = ?"
		params = []any{competencia}
	}

	row, err := s.store.Get(ctx, `
		SELECT
			COUNT(*)                                        AS total,
			SUM(CASE WHEN status IN (2, 3) THEN 1 ELSE 0 END) AS em_processamento,
			SUM(CASE WHEN status IN (1, 4) THEN 1 ELSE 0 END) AS finalizadas,
			COALESCE(SUM(valor_inicial), 0)                 AS valor_inicial_total,
			COALESCE(SUM(valor_atual), 0)                   AS valor_atual_total
		FROM aihs`+where,
		params, storage.TierDashboard)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{Competencia: competencia}
	if row == nil {
		return stats, nil
	}

	stats.TotalAIHs = rowInt64(row, "total")
	stats.EmProcessamento = rowInt64(row, "em_processamento")
	stats.Finalizadas = rowInt64(row, "finalizadas")
	stats.ValorInicialTotal = rowDecimal(row, "valor_inicial_total")
	stats.ValorAtualTotal = rowDecimal(row, "valor_atual_total")
	stats.ValorGlosado = stats.ValorInicialTotal.Sub(stats.ValorAtualTotal)
	if stats.ValorGlosado.LessThan(decimal.Zero) {
		stats.ValorGlosado = decimal.Zero
	}
	return stats, nil
}

// SearchAIHs finds records by número prefix or exact competência, for the
// lookup screens. Results ride the quick tier.
func (s *Service) SearchAIHs(ctx context.Context, numeroPrefix, competencia string, limit int) ([]storage.AIH, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT * FROM aihs`
	var (
		clauses []string
		params  []any
	)
	if numeroPrefix != "" {
		clauses = append(clauses, `numero_aih LIKE ?`)
		params = append(params, numeroPrefix+"%")
	}
	if competencia != "" {
		clauses = append(clauses, `competencia = ?`)
		params = append(params, competencia)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += ` ORDER BY criado_em DESC LIMIT ?`
	params = append(params, limit)

	rows, err := s.store.All(ctx, query, params, storage.TierQuick)
	if err != nil {
		return nil, err
	}
	out := make([]storage.AIH, 0, len(rows))
	for _, r := range rows {
		out = append(out, aihFromRow(r))
	}
	return out, nil
}
