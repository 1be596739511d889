package aih

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/rfarias/sisaih/internal/storage"
)

const bcryptCost = 10

// CreateUsuario registers an operator account. Names and matrículas are
// unique; the password is stored as a bcrypt hash only.
func (s *Service) CreateUsuario(ctx context.Context, nome, matricula, senha string) (*storage.Usuario, error) {
	var problems []string
	if nome == "" {
		problems = append(problems, "Nome é obrigatório")
	}
	if matricula == "" {
		problems = append(problems, "Matrícula é obrigatória")
	}
	if len(senha) < 6 {
		problems = append(problems, "Senha deve ter pelo menos 6 caracteres")
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Messages: problems}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(senha), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	res, err := s.store.Exec(ctx,
		`INSERT INTO usuarios (nome, matricula, senha_hash) VALUES (?, ?, ?)`,
		nome, matricula, string(hash))
	if err != nil {
		return nil, fmt.Errorf("create usuario: %w", err)
	}

	s.logger.Info("usuário criado", "nome", nome, "matricula", matricula)
	return &storage.Usuario{
		ID:        res.LastInsertID,
		Nome:      nome,
		Matricula: matricula,
		SenhaHash: string(hash),
	}, nil
}

// AuthenticateUsuario checks operator credentials and records the login in
// the access log. A missing user and a wrong password are indistinguishable
// to the caller.
func (s *Service) AuthenticateUsuario(ctx context.Context, nome, senha string) (*storage.Usuario, error) {
	row, err := s.store.Get(ctx,
		`SELECT * FROM usuarios WHERE nome = ?`, []any{nome}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrCredenciaisInvalidas
	}

	hash := rowString(row, "senha_hash")
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(senha)) != nil {
		return nil, ErrCredenciaisInvalidas
	}

	user := &storage.Usuario{
		ID:        rowInt64(row, "id"),
		Nome:      rowString(row, "nome"),
		Matricula: rowString(row, "matricula"),
		SenhaHash: hash,
		CriadoEm:  rowTime(row, "criado_em"),
	}

	if err := s.LogAccess(ctx, user.ID, "Login"); err != nil {
		s.logger.Warn("registro de login falhou", "usuario_id", user.ID, "error", err)
	}
	return user, nil
}

// AuthenticateAdmin checks administrator credentials.
func (s *Service) AuthenticateAdmin(ctx context.Context, usuario, senha string) (*storage.Administrador, error) {
	row, err := s.store.Get(ctx,
		`SELECT * FROM administradores WHERE usuario = ?`, []any{usuario}, storage.TierNone)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrCredenciaisInvalidas
	}

	hash := rowString(row, "senha_hash")
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(senha)) != nil {
		return nil, ErrCredenciaisInvalidas
	}

	return &storage.Administrador{
		ID:              rowInt64(row, "id"),
		Usuario:         rowString(row, "usuario"),
		SenhaHash:       hash,
		CriadoEm:        rowTime(row, "criado_em"),
		UltimaAlteracao: rowTime(row, "ultima_alteracao"),
	}, nil
}

// ChangeAdminPassword replaces an administrator's password after verifying
// the current one.
func (s *Service) ChangeAdminPassword(ctx context.Context, usuario, senhaAtual, senhaNova string) error {
	if len(senhaNova) < 6 {
		return &ValidationError{Messages: []string{"Senha deve ter pelo menos 6 caracteres"}}
	}

	admin, err := s.AuthenticateAdmin(ctx, usuario, senhaAtual)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(senhaNova), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.store.Exec(ctx,
		`UPDATE administradores SET senha_hash = ?, ultima_alteracao = CURRENT_TIMESTAMP WHERE id = ?`,
		string(hash), admin.ID)
	if err != nil {
		return fmt.Errorf("change admin password: %w", err)
	}

	s.logger.Info("senha de administrador alterada", "usuario", usuario)
	return nil
}
