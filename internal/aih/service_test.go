package aih

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rfarias/sisaih/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.Open(context.Background(), storage.Options{
		Path:     filepath.Join(t.TempDir(), "aih.db"),
		PoolSize: 4,
		Logger:   logger,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return NewService(store, logger), store
}

func newTestUser(t *testing.T, svc *Service) *storage.Usuario {
	t.Helper()

	user, err := svc.CreateUsuario(context.Background(), "auditor", "M-001", "segredo1")
	require.NoError(t, err)
	return user
}

func registerTestAIH(t *testing.T, svc *Service, usuarioID int64, numero string) *storage.AIH {
	t.Helper()

	record, err := svc.RegisterAIH(context.Background(), RegisterAIHRequest{
		NumeroAIH:    numero,
		ValorInicial: decimal.NewFromFloat(1000.00),
		Competencia:  "03/2024",
		Atendimentos: []string{"A1"},
		UsuarioID:    usuarioID,
	})
	require.NoError(t, err)
	return record
}

func TestRegisterAIHStartsInDiscussion(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	record := registerTestAIH(t, svc, user.ID, "1234567890123")
	require.Greater(t, record.ID, int64(0))
	require.Equal(t, storage.StatusAtivaDiscussao, record.Status)
	require.True(t, record.ValorAtual.Equal(decimal.NewFromFloat(1000.00)))

	detail, err := svc.GetAIH(ctx, "1234567890123")
	require.NoError(t, err)
	require.Equal(t, "1234567890123", detail.AIH.NumeroAIH)
	require.Equal(t, storage.StatusAtivaDiscussao, detail.AIH.Status)
	require.Len(t, detail.Atendimentos, 1)
	require.Equal(t, "A1", detail.Atendimentos[0].NumeroAtendimento)
	require.Empty(t, detail.Movimentacoes)
	require.True(t, detail.ValorGlosado().IsZero())
}

func TestRegisterAIHRejectsDuplicates(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)

	registerTestAIH(t, svc, user.ID, "111")

	_, err := svc.RegisterAIH(context.Background(), RegisterAIHRequest{
		NumeroAIH:    "111",
		ValorInicial: decimal.NewFromInt(500),
		Competencia:  "04/2024",
		Atendimentos: []string{"B1"},
		UsuarioID:    user.ID,
	})
	require.ErrorIs(t, err, ErrDuplicateAIH)
}

func TestRegisterAIHValidationFailureListsProblems(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)

	_, err := svc.RegisterAIH(context.Background(), RegisterAIHRequest{})
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Messages, 4)
}

func TestAddMovementUpdatesStatusAndValue(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "222")

	valor := decimal.NewFromFloat(950.00)
	mov, err := svc.AddMovement(ctx, MovementRequest{
		NumeroAIH:  "222",
		Tipo:       storage.TipoEntradaSUS,
		StatusAIH:  storage.StatusAtivaIndireta,
		ValorConta: &valor,
		UsuarioID:  user.ID,
	})
	require.NoError(t, err)
	require.Greater(t, mov.ID, int64(0))

	detail, err := svc.GetAIH(ctx, "222")
	require.NoError(t, err)
	require.Equal(t, storage.StatusAtivaIndireta, detail.AIH.Status)
	require.True(t, detail.AIH.ValorAtual.Equal(valor))
	require.True(t, detail.ValorGlosado().Equal(decimal.NewFromFloat(50.00)))
	require.Len(t, detail.Movimentacoes, 1)
	require.Equal(t, storage.TipoEntradaSUS, detail.Movimentacoes[0].Tipo)
}

func TestAddMovementEnforcesAlternation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "333")

	_, err := svc.AddMovement(ctx, MovementRequest{
		NumeroAIH: "333",
		Tipo:      storage.TipoEntradaSUS,
		StatusAIH: storage.StatusAtivaIndireta,
		UsuarioID: user.ID,
	})
	require.NoError(t, err)

	// Same direction twice in a row is rejected.
	_, err = svc.AddMovement(ctx, MovementRequest{
		NumeroAIH: "333",
		Tipo:      storage.TipoEntradaSUS,
		StatusAIH: storage.StatusAtivaIndireta,
		UsuarioID: user.ID,
	})
	require.ErrorIs(t, err, ErrMovimentoForaDeOrdem)

	_, err = svc.AddMovement(ctx, MovementRequest{
		NumeroAIH: "333",
		Tipo:      storage.TipoSaidaHospital,
		StatusAIH: storage.StatusAtivaDiscussao,
		UsuarioID: user.ID,
	})
	require.NoError(t, err)
}

func TestAddMovementAlternationHoldsUnderConcurrency(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	record := registerTestAIH(t, svc, user.ID, "334")

	// Two simultaneous entries with the same direction: exactly one may win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AddMovement(ctx, MovementRequest{
				NumeroAIH: "334",
				Tipo:      storage.TipoEntradaSUS,
				StatusAIH: storage.StatusAtivaIndireta,
				UsuarioID: user.ID,
			})
		}(i)
	}
	wg.Wait()

	var okCount, rejectedCount int
	for _, err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrMovimentoForaDeOrdem):
			rejectedCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, okCount)
	require.Equal(t, 1, rejectedCount)

	row, err := store.Get(ctx,
		`SELECT COUNT(*) AS n FROM movimentacoes WHERE aih_id = ?`,
		[]any{record.ID}, storage.TierNone)
	require.NoError(t, err)
	require.Equal(t, int64(1), row["n"])
}

func TestAddMovementOnFinalizedRequiresReopen(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "444")

	_, err := svc.AddMovement(ctx, MovementRequest{
		NumeroAIH: "444",
		Tipo:      storage.TipoSaidaHospital,
		StatusAIH: storage.StatusFinalizadaDireta,
		UsuarioID: user.ID,
	})
	require.NoError(t, err)

	_, err = svc.AddMovement(ctx, MovementRequest{
		NumeroAIH: "444",
		Tipo:      storage.TipoEntradaSUS,
		StatusAIH: storage.StatusAtivaDiscussao,
		UsuarioID: user.ID,
	})
	require.ErrorIs(t, err, ErrReaberturaNecessaria)

	// A confirmed reopening goes through.
	_, err = svc.AddMovement(ctx, MovementRequest{
		NumeroAIH: "444",
		Tipo:      storage.TipoEntradaSUS,
		StatusAIH: storage.StatusAtivaDiscussao,
		UsuarioID: user.ID,
		Reopen:    true,
	})
	require.NoError(t, err)

	detail, err := svc.GetAIH(ctx, "444")
	require.NoError(t, err)
	require.Equal(t, storage.StatusAtivaDiscussao, detail.AIH.Status)
	require.Len(t, detail.Movimentacoes, 2)
}

func TestGlosaLifecycle(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "555")

	glosa, err := svc.AddGlosa(ctx, GlosaRequest{
		NumeroAIH:    "555",
		Linha:        "Linha 12",
		Tipo:         "Material não previsto",
		Profissional: "Dr. A",
		Quantidade:   2,
		UsuarioID:    user.ID,
	})
	require.NoError(t, err)
	require.True(t, glosa.Ativa)
	require.Equal(t, 2, glosa.Quantidade)

	ativas, err := svc.ListGlosas(ctx, "555")
	require.NoError(t, err)
	require.Len(t, ativas, 1)

	require.NoError(t, svc.DeactivateGlosa(ctx, glosa.ID, user.ID))

	ativas, err = svc.ListGlosas(ctx, "555")
	require.NoError(t, err)
	require.Empty(t, ativas)

	// Already resolved.
	require.ErrorIs(t, svc.DeactivateGlosa(ctx, glosa.ID, user.ID), storage.ErrNotFound)
}

func TestAddGlosaUnknownAIH(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)

	_, err := svc.AddGlosa(context.Background(), GlosaRequest{
		NumeroAIH:    "nope",
		Linha:        "L1",
		Tipo:         "Material",
		Profissional: "Dr. A",
		UsuarioID:    user.ID,
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteAIHRequiresJustification(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)

	registerTestAIH(t, svc, user.ID, "666")

	err := svc.DeleteAIH(context.Background(), DeleteAIHRequest{
		NumeroAIH:     "666",
		Justificativa: "curta",
		UsuarioID:     user.ID,
	})
	require.ErrorIs(t, err, ErrJustificativaObrigatoria)
}

func TestDeleteAIHSnapshotsBeforeRemoving(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "777")
	_, err := svc.AddGlosa(ctx, GlosaRequest{
		NumeroAIH: "777", Linha: "L1", Tipo: "Material", Profissional: "Dr. A", UsuarioID: user.ID,
	})
	require.NoError(t, err)

	err = svc.DeleteAIH(ctx, DeleteAIHRequest{
		NumeroAIH:     "777",
		Justificativa: "registro duplicado por erro de digitação",
		UsuarioID:     user.ID,
		IPOrigem:      "10.0.0.5",
	})
	require.NoError(t, err)

	_, err = svc.GetAIH(ctx, "777")
	require.ErrorIs(t, err, storage.ErrNotFound)

	logs, err := store.All(ctx,
		`SELECT * FROM logs_exclusao WHERE tipo_exclusao = 'aih'`, nil, storage.TierNone)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "registro duplicado por erro de digitação", logs[0]["justificativa"])
	require.Contains(t, logs[0]["dados_excluidos"], "777")
	require.Contains(t, logs[0]["dados_excluidos"], "glosas")
	require.Equal(t, "10.0.0.5", logs[0]["ip_origem"])
}

func TestDeleteMovementKeepsParent(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "888")
	mov, err := svc.AddMovement(ctx, MovementRequest{
		NumeroAIH: "888",
		Tipo:      storage.TipoEntradaSUS,
		StatusAIH: storage.StatusAtivaIndireta,
		UsuarioID: user.ID,
	})
	require.NoError(t, err)

	err = svc.DeleteMovement(ctx, DeleteMovementRequest{
		MovimentacaoID: mov.ID,
		Justificativa:  "lançamento em AIH errada",
		UsuarioID:      user.ID,
	})
	require.NoError(t, err)

	detail, err := svc.GetAIH(ctx, "888")
	require.NoError(t, err)
	require.Empty(t, detail.Movimentacoes)

	logs, err := store.All(ctx,
		`SELECT id FROM logs_exclusao WHERE tipo_exclusao = 'movimentacao'`, nil, storage.TierNone)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestAuthenticateUsuario(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateUsuario(ctx, "maria", "M-002", "senha-forte")
	require.NoError(t, err)
	require.NotEqual(t, "senha-forte", created.SenhaHash)

	user, err := svc.AuthenticateUsuario(ctx, "maria", "senha-forte")
	require.NoError(t, err)
	require.Equal(t, created.ID, user.ID)

	_, err = svc.AuthenticateUsuario(ctx, "maria", "errada")
	require.ErrorIs(t, err, ErrCredenciaisInvalidas)

	_, err = svc.AuthenticateUsuario(ctx, "ninguem", "senha-forte")
	require.ErrorIs(t, err, ErrCredenciaisInvalidas)
}

func TestDefaultAdminAndPasswordChange(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	// The seeded administrator authenticates with the bootstrap password.
	admin, err := svc.AuthenticateAdmin(ctx, storage.DefaultAdminUser, "admin")
	require.NoError(t, err)
	require.Equal(t, storage.DefaultAdminUser, admin.Usuario)

	require.NoError(t, svc.ChangeAdminPassword(ctx, storage.DefaultAdminUser, "admin", "nova-senha"))

	_, err = svc.AuthenticateAdmin(ctx, storage.DefaultAdminUser, "admin")
	require.ErrorIs(t, err, ErrCredenciaisInvalidas)

	_, err = svc.AuthenticateAdmin(ctx, storage.DefaultAdminUser, "nova-senha")
	require.NoError(t, err)
}

func TestDashboardAggregates(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "901")
	registerTestAIH(t, svc, user.ID, "902")

	valor := decimal.NewFromFloat(800.00)
	_, err := svc.AddMovement(ctx, MovementRequest{
		NumeroAIH:  "902",
		Tipo:       storage.TipoSaidaHospital,
		StatusAIH:  storage.StatusFinalizadaDireta,
		ValorConta: &valor,
		UsuarioID:  user.ID,
	})
	require.NoError(t, err)

	stats, err := svc.Dashboard(ctx, "03/2024")
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalAIHs)
	require.Equal(t, int64(1), stats.EmProcessamento)
	require.Equal(t, int64(1), stats.Finalizadas)
	require.True(t, stats.ValorInicialTotal.Equal(decimal.NewFromFloat(2000.00)))
	require.True(t, stats.ValorAtualTotal.Equal(decimal.NewFromFloat(1800.00)))
	require.True(t, stats.ValorGlosado.Equal(decimal.NewFromFloat(200.00)))
}

func TestSearchAIHs(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	user := newTestUser(t, svc)
	ctx := context.Background()

	registerTestAIH(t, svc, user.ID, "12345")
	registerTestAIH(t, svc, user.ID, "12399")
	registerTestAIH(t, svc, user.ID, "98765")

	found, err := svc.SearchAIHs(ctx, "123", "", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = svc.SearchAIHs(ctx, "", "03/2024", 0)
	require.NoError(t, err)
	require.Len(t, found, 3)

	found, err = svc.SearchAIHs(ctx, "987", "03/2024", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "98765", found[0].NumeroAIH)
}

func TestReferenceCatalogs(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	prof, err := svc.AddProfissional(ctx, "Dr. A", "Medicina")
	require.NoError(t, err)
	_, err = svc.AddProfissional(ctx, "Dra. B", "Enfermagem")
	require.NoError(t, err)

	todos, err := svc.ListProfissionais(ctx, "")
	require.NoError(t, err)
	require.Len(t, todos, 2)

	medicos, err := svc.ListProfissionais(ctx, "Medicina")
	require.NoError(t, err)
	require.Len(t, medicos, 1)
	require.Equal(t, "Dr. A", medicos[0].Nome)

	require.NoError(t, svc.RemoveProfissional(ctx, prof.ID))
	require.ErrorIs(t, svc.RemoveProfissional(ctx, prof.ID), storage.ErrNotFound)

	// Seeded deduction types plus a custom one.
	tipos, err := svc.ListTiposGlosa(ctx)
	require.NoError(t, err)
	require.Len(t, tipos, 5)

	tipo, err := svc.AddTipoGlosa(ctx, "Cobrança em duplicidade de OPME")
	require.NoError(t, err)

	tipos, err = svc.ListTiposGlosa(ctx)
	require.NoError(t, err)
	require.Len(t, tipos, 6)

	require.NoError(t, svc.RemoveTipoGlosa(ctx, tipo.ID))
}
