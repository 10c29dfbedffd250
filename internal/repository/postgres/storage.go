package postgres

import (
	"context"
	"fmt"

	"github.com/medpoint/loyalty/internal/repository"
)

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Account() repository.AccountRepo {
	return &AccountRepo{DB: s.db}
}

func (s *Storage) Posting() repository.PostingRepo {
	return &PostingRepo{DB: s.db}
}

func (s *Storage) Certificate() repository.CertificateRepo {
	return &CertificateRepo{DB: s.db}
}

func (s *Storage) Referral() repository.ReferralRepo {
	return &ReferralRepo{DB: s.db}
}

func (s *Storage) Rule() repository.RewardRuleRepo {
	return &RewardRuleRepo{DB: s.db}
}

func (s *Storage) Audit() repository.AuditRepo {
	return &AuditRepo{DB: s.db}
}

func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit(ctx)
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(NewStorage(tx))

	return err
}
