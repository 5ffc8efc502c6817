package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/models"
)

// WalletService owns a customer's monetary wallet balance. Credits held in
// the same wallet are handled by CreditService.
type WalletService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *audit.Logger
	log    *logrus.Entry
	now    func() time.Time
}

func NewWalletService(db *sql.DB, ledger *LedgerService, auditLogger *audit.Logger, log *logrus.Entry) *WalletService {
	return &WalletService{
		db:     db,
		ledger: ledger,
		audit:  auditLogger,
		log:    log.WithField("component", "wallet"),
		now:    time.Now,
	}
}

// EnsureWallet returns the customer's wallet in currency, creating it on first use.
func (s *WalletService) EnsureWallet(ctx context.Context, orgID, customerID, currency string) (*models.Wallet, error) {
	currency = strings.ToUpper(currency)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, org_id, customer_id, currency, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id, customer_id, currency) DO NOTHING`,
		uuid.NewString(), orgID, customerID, currency, s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}

	var w models.Wallet
	err = s.db.QueryRowContext(ctx, `
		SELECT w.id, w.org_id, w.customer_id, w.currency, w.created_at, COALESCE(b.balance, 0)
		FROM wallets w
		LEFT JOIN ledger_balances b
			ON b.org_id = w.org_id AND b.account_type = 'wallet' AND b.account_id = w.id::text AND b.unit = w.currency
		WHERE w.org_id = $1 AND w.customer_id = $2 AND w.currency = $3`,
		orgID, customerID, currency,
	).Scan(&w.ID, &w.OrgID, &w.CustomerID, &w.Currency, &w.CreatedAt, &w.Balance)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return &w, nil
}

// Get returns a wallet with its monetary balance.
func (s *WalletService) Get(ctx context.Context, orgID, walletID string) (*models.Wallet, error) {
	var w models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT w.id, w.org_id, w.customer_id, w.currency, w.created_at, COALESCE(b.balance, 0)
		FROM wallets w
		LEFT JOIN ledger_balances b
			ON b.org_id = w.org_id AND b.account_type = 'wallet' AND b.account_id = w.id::text AND b.unit = w.currency
		WHERE w.org_id = $1 AND w.id = $2`,
		orgID, walletID,
	).Scan(&w.ID, &w.OrgID, &w.CustomerID, &w.Currency, &w.CreatedAt, &w.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	return &w, nil
}

// TopUp adds prepaid money to a wallet.
func (s *WalletService) TopUp(ctx context.Context, orgID, walletID string, amount int64, ref models.Reference, actor string) (*models.Wallet, error) {
	return s.move(ctx, orgID, walletID, models.EntryPurchase, amount, ref, actor)
}

// Spend pays part of an order from the wallet balance.
func (s *WalletService) Spend(ctx context.Context, orgID, walletID string, amount int64, ref models.Reference, actor string) (*models.Wallet, error) {
	return s.move(ctx, orgID, walletID, models.EntryRedemption, -amount, ref, actor)
}

// Refund returns money to a wallet, e.g. for a cancelled booking.
func (s *WalletService) Refund(ctx context.Context, orgID, walletID string, amount int64, ref models.Reference, actor string) (*models.Wallet, error) {
	return s.move(ctx, orgID, walletID, models.EntryRefund, amount, ref, actor)
}

func (s *WalletService) move(ctx context.Context, orgID, walletID string, kind models.EntryKind, delta int64, ref models.Reference, actor string) (*models.Wallet, error) {
	if delta == 0 {
		return nil, fmt.Errorf("%w: amount must be non-zero", models.ErrInvalidAmount)
	}

	var wallet *models.Wallet
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		w, err := lockWallet(ctx, tx, orgID, walletID)
		if err != nil {
			return err
		}

		account := models.WalletAccount(w.ID)
		before, err := s.ledger.LockedBalance(ctx, tx, orgID, account, w.Currency)
		if err != nil {
			return err
		}
		if before+delta < 0 {
			return fmt.Errorf("%w: balance %s, requested %s", models.ErrInsufficientWalletBalance,
				models.FormatAmount(before, w.Currency), models.FormatAmount(-delta, w.Currency))
		}

		after, err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          w.Currency,
			Kind:          kind,
			Delta:         delta,
			BalanceBefore: before,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
			Actor:         actor,
		})
		if err != nil {
			return err
		}
		w.Balance = after
		wallet = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogMovement(orgID, "wallet/"+walletID, string(kind), delta, wallet.Currency, actor, wallet.Balance)
	return wallet, nil
}

// History lists the wallet's ledger entries in [from, to).
func (s *WalletService) History(ctx context.Context, orgID, walletID string, from, to time.Time) ([]models.LedgerEntry, error) {
	return s.ledger.History(ctx, orgID, models.WalletAccount(walletID), from, to)
}

// lockWallet serializes all balance changes of one wallet behind its row lock.
func lockWallet(ctx context.Context, tx *sql.Tx, orgID, walletID string) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRowContext(ctx, `
		SELECT id, org_id, customer_id, currency, created_at FROM wallets
		WHERE org_id = $1 AND id = $2
		FOR UPDATE`,
		orgID, walletID,
	).Scan(&w.ID, &w.OrgID, &w.CustomerID, &w.Currency, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return &w, nil
}
