package storage

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var createTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS usuarios (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nome TEXT UNIQUE NOT NULL,
		matricula TEXT UNIQUE NOT NULL,
		senha_hash TEXT NOT NULL,
		criado_em DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS administradores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		usuario TEXT UNIQUE NOT NULL,
		senha_hash TEXT NOT NULL,
		criado_em DATETIME DEFAULT CURRENT_TIMESTAMP,
		ultima_alteracao DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS aihs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		numero_aih TEXT UNIQUE NOT NULL,
		valor_inicial REAL NOT NULL,
		valor_atual REAL NOT NULL,
		status INTEGER NOT NULL DEFAULT 3,
		competencia TEXT NOT NULL,
		criado_em DATETIME DEFAULT CURRENT_TIMESTAMP,
		usuario_cadastro_id INTEGER,
		FOREIGN KEY (usuario_cadastro_id) REFERENCES usuarios(id)
	)`,
	`CREATE TABLE IF NOT EXISTS atendimentos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aih_id INTEGER NOT NULL,
		numero_atendimento TEXT NOT NULL,
		FOREIGN KEY (aih_id) REFERENCES aihs(id)
	)`,
	`CREATE TABLE IF NOT EXISTS movimentacoes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aih_id INTEGER NOT NULL,
		tipo TEXT NOT NULL,
		data_movimentacao DATETIME DEFAULT CURRENT_TIMESTAMP,
		usuario_id INTEGER NOT NULL,
		valor_conta REAL,
		competencia TEXT,
		prof_medicina TEXT,
		prof_enfermagem TEXT,
		prof_fisioterapia TEXT,
		prof_bucomaxilo TEXT,
		status_aih INTEGER NOT NULL,
		observacoes TEXT,
		FOREIGN KEY (aih_id) REFERENCES aihs(id),
		FOREIGN KEY (usuario_id) REFERENCES usuarios(id)
	)`,
	`CREATE TABLE IF NOT EXISTS glosas (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		aih_id INTEGER NOT NULL,
		linha TEXT NOT NULL,
		tipo TEXT NOT NULL,
		profissional TEXT NOT NULL,
		quantidade INTEGER DEFAULT 1,
		ativa INTEGER DEFAULT 1,
		criado_em DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (aih_id) REFERENCES aihs(id)
	)`,
	`CREATE TABLE IF NOT EXISTS profissionais (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nome TEXT NOT NULL,
		especialidade TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tipos_glosa (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		descricao TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS logs_acesso (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		usuario_id INTEGER NOT NULL,
		acao TEXT NOT NULL,
		data_hora DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (usuario_id) REFERENCES usuarios(id)
	)`,
	`CREATE TABLE IF NOT EXISTS logs_exclusao (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tipo_exclusao TEXT NOT NULL,
		usuario_id INTEGER NOT NULL,
		dados_excluidos TEXT NOT NULL,
		justificativa TEXT NOT NULL,
		ip_origem TEXT,
		user_agent TEXT,
		data_exclusao DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (usuario_id) REFERENCES usuarios(id)
	)`,
}

// Columns introduced after the first schema release; added to pre-existing
// databases without failing when already present.
var addColumnStatements = []struct {
	table  string
	column string
	ddl    string
}{
	{"usuarios", "matricula", `ALTER TABLE usuarios ADD COLUMN matricula TEXT`},
	{"movimentacoes", "observacoes", `ALTER TABLE movimentacoes ADD COLUMN observacoes TEXT`},
}

// Index design: composite indexes for status+competence filtering and
// descending-time feeds, partial indexes for the hot subsets (active glosas,
// open/closed statuses), expression indexes for case-insensitive number
// lookups and period splits, plus the wide covering indexes the dashboard and
// export queries lean on.
var createIndexStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_aih_numero ON aihs(numero_aih)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_usuarios_nome ON usuarios(nome)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_usuarios_matricula ON usuarios(matricula)`,

	`CREATE INDEX IF NOT EXISTS idx_aih_status_competencia ON aihs(status, competencia)`,
	`CREATE INDEX IF NOT EXISTS idx_aih_competencia_criado ON aihs(competencia, criado_em DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_aih_status_valor ON aihs(status, valor_atual)`,
	`CREATE INDEX IF NOT EXISTS idx_aih_usuario_criado ON aihs(usuario_cadastro_id, criado_em DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_mov_aih_data ON movimentacoes(aih_id, data_movimentacao DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_mov_tipo_competencia ON movimentacoes(tipo, competencia)`,
	`CREATE INDEX IF NOT EXISTS idx_mov_competencia_data ON movimentacoes(competencia, data_movimentacao DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_mov_usuario_data ON movimentacoes(usuario_id, data_movimentacao DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_glosas_aih_ativa ON glosas(aih_id, ativa)`,
	`CREATE INDEX IF NOT EXISTS idx_glosas_tipo_prof ON glosas(tipo, profissional)`,
	`CREATE INDEX IF NOT EXISTS idx_glosas_prof_ativa ON glosas(profissional, ativa, criado_em DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_atendimentos_numero ON atendimentos(numero_atendimento)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_usuario_data ON logs_acesso(usuario_id, data_hora DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_acao_data ON logs_acesso(acao, data_hora DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_logs_exclusao_usuario ON logs_exclusao(usuario_id, data_exclusao DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_exclusao_tipo ON logs_exclusao(tipo_exclusao, data_exclusao DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_exclusao_data ON logs_exclusao(data_exclusao DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_dashboard_competencia_status ON aihs(competencia, status, valor_inicial, valor_atual)`,
	`CREATE INDEX IF NOT EXISTS idx_mov_tipo_competencia_aih ON movimentacoes(tipo, competencia, aih_id)`,
	`CREATE INDEX IF NOT EXISTS idx_glosas_ativa_aih_tipo ON glosas(ativa, aih_id, tipo, profissional)`,
	`CREATE INDEX IF NOT EXISTS idx_aih_criado_status ON aihs(criado_em DESC, status, competencia)`,

	`CREATE INDEX IF NOT EXISTS idx_mov_competencia_tipo_data ON movimentacoes(competencia, tipo, data_movimentacao DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_mov_prof_medicina ON movimentacoes(prof_medicina) WHERE prof_medicina IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_mov_prof_enfermagem ON movimentacoes(prof_enfermagem) WHERE prof_enfermagem IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_mov_prof_fisio ON movimentacoes(prof_fisioterapia) WHERE prof_fisioterapia IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_mov_prof_buco ON movimentacoes(prof_bucomaxilo) WHERE prof_bucomaxilo IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_aih_numero_status ON aihs(numero_aih, status, competencia)`,
	`CREATE INDEX IF NOT EXISTS idx_aih_valor_competencia ON aihs(valor_inicial, valor_atual, competencia)`,
	`CREATE INDEX IF NOT EXISTS idx_mov_aih_usuario_data ON movimentacoes(aih_id, usuario_id, data_movimentacao DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_glosas_criado_ativa ON glosas(criado_em DESC, ativa, profissional)`,
	`CREATE INDEX IF NOT EXISTS idx_atend_aih_numero ON atendimentos(aih_id, numero_atendimento)`,

	`CREATE INDEX IF NOT EXISTS idx_aih_criado_competencia_valor ON aihs(criado_em, competencia, valor_inicial DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_mov_data_tipo_valor ON movimentacoes(data_movimentacao DESC, tipo, valor_conta)`,

	`CREATE INDEX IF NOT EXISTS idx_aih_status_criado_valor ON aihs(status, criado_em DESC, valor_inicial, valor_atual)`,
	`CREATE INDEX IF NOT EXISTS idx_glosas_tipo_linha_ativa ON glosas(tipo, linha, ativa, criado_em DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_mov_aih_tipo_status ON movimentacoes(aih_id, tipo, status_aih, data_movimentacao DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_aih_numero_upper ON aihs(UPPER(numero_aih))`,
	`CREATE INDEX IF NOT EXISTS idx_atend_numero_upper ON atendimentos(UPPER(numero_atendimento))`,

	`CREATE INDEX IF NOT EXISTS idx_aih_calculo_glosa ON aihs(valor_inicial - valor_atual) WHERE (valor_inicial - valor_atual) > 0`,

	`CREATE INDEX IF NOT EXISTS idx_aih_mes_ano ON aihs(substr(competencia, 4, 4), substr(competencia, 1, 2))`,
	`CREATE INDEX IF NOT EXISTS idx_mov_mes_ano ON movimentacoes(strftime('%Y', data_movimentacao), strftime('%m', data_movimentacao))`,

	`CREATE INDEX IF NOT EXISTS idx_aih_finalizadas ON aihs(criado_em DESC, valor_atual) WHERE status IN (1, 4)`,
	`CREATE INDEX IF NOT EXISTS idx_aih_ativas ON aihs(criado_em DESC, status, competencia) WHERE status IN (2, 3)`,

	`CREATE INDEX IF NOT EXISTS idx_glosas_ativas_prof_tipo ON glosas(profissional, tipo, criado_em DESC) WHERE ativa = 1`,
	`CREATE INDEX IF NOT EXISTS idx_glosas_ativas_aih_criado ON glosas(aih_id, criado_em DESC) WHERE ativa = 1`,

	`CREATE INDEX IF NOT EXISTS idx_dashboard_status_comp_valor ON aihs(status, competencia, valor_inicial, valor_atual, criado_em DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_mov_prof_med_data ON movimentacoes(prof_medicina, data_movimentacao DESC) WHERE prof_medicina IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_mov_prof_enf_data ON movimentacoes(prof_enfermagem, data_movimentacao DESC) WHERE prof_enfermagem IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_mov_prof_fisio_data ON movimentacoes(prof_fisioterapia, data_movimentacao DESC) WHERE prof_fisioterapia IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_mov_prof_buco_data ON movimentacoes(prof_bucomaxilo, data_movimentacao DESC) WHERE prof_bucomaxilo IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_competencia_performance ON aihs(competencia, status, valor_inicial, valor_atual)`,

	`CREATE INDEX IF NOT EXISTS idx_aih_data_cadastro ON aihs(date(criado_em), competencia, status)`,
	`CREATE INDEX IF NOT EXISTS idx_mov_data_tipo_comp ON movimentacoes(date(data_movimentacao), tipo, competencia)`,

	`CREATE INDEX IF NOT EXISTS idx_logs_usuario_mes ON logs_acesso(usuario_id, strftime('%Y-%m', data_hora))`,
	`CREATE INDEX IF NOT EXISTS idx_logs_excl_mes ON logs_exclusao(strftime('%Y-%m', data_exclusao), tipo_exclusao)`,

	`CREATE INDEX IF NOT EXISTS idx_export_completo ON aihs(criado_em DESC, numero_aih, status, competencia, valor_inicial, valor_atual)`,
}

var defaultTiposGlosa = []string{
	"Material não autorizado",
	"Quantidade excedente",
	"Procedimento não autorizado",
	"Falta de documentação",
	"Divergência de valores",
}

const (
	// Seeded admin credentials; the placeholder password is meant to be
	// changed on first run.
	DefaultAdminUser     = "admin"
	defaultAdminPassword = "admin"
	bcryptCost           = 10
)

// Initialize applies the full schema idempotently: tables and indexes are
// created if absent, late-added columns are added only when missing, and the
// reference seeds (deduction types, one default administrator) are inserted
// if absent. Runs on the primary connection before the pool exists.
func (s *Store) Initialize(ctx context.Context) error {
	for _, stmt := range createTableStatements {
		if _, err := s.primary.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}

	for _, add := range addColumnStatements {
		exists, err := columnExists(ctx, s.primary, add.table, add.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		// The existence check races against nothing at startup, but an
		// already-exists failure is still tolerated the way the column
		// check contract demands.
		if _, err := s.primary.ExecContext(ctx, add.ddl); err != nil {
			s.logger.Warn("adicionar coluna ignorada", "tabela", add.table, "coluna", add.column, "erro", err)
		}
	}

	for _, stmt := range createIndexStatements {
		if _, err := s.primary.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize indexes: %w", err)
		}
	}

	if err := s.seedReferenceData(ctx); err != nil {
		return err
	}

	s.logger.Info("banco de dados inicializado", "indices", len(createIndexStatements))
	return nil
}

func (s *Store) seedReferenceData(ctx context.Context) error {
	for _, descricao := range defaultTiposGlosa {
		if _, err := s.primary.ExecContext(ctx, `INSERT OR IGNORE INTO tipos_glosa (descricao) VALUES (?)`, descricao); err != nil {
			return fmt.Errorf("seed tipos_glosa: %w", err)
		}
	}

	var count int
	if err := s.primary.QueryRowContext(ctx, `SELECT COUNT(*) FROM administradores WHERE usuario = ?`, DefaultAdminUser).Scan(&count); err != nil {
		return fmt.Errorf("seed administrador: %w", err)
	}
	if count == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte(defaultAdminPassword), bcryptCost)
		if err != nil {
			return fmt.Errorf("seed administrador: hash: %w", err)
		}
		if _, err := s.primary.ExecContext(ctx, `INSERT OR IGNORE INTO administradores (usuario, senha_hash) VALUES (?, ?)`, DefaultAdminUser, string(hash)); err != nil {
			return fmt.Errorf("seed administrador: %w", err)
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return false, fmt.Errorf("query table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dfltVal sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dfltVal, &pk); err != nil {
			return false, fmt.Errorf("scan table info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return false, nil
}
