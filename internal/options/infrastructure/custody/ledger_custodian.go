// Package custody 资金托管端口的台账实现。
// 引擎不持有余额，本实现只在托管台账上记录锁定/释放/支付指令，
// 真实资金划转由外部清算通道对账后执行。
package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/unxversal/optionsengine/pkg/db"
)

var ErrInsufficientLocked = errors.New("release amount exceeds locked balance")

// AccountModel MySQL 托管账户表映射
type AccountModel struct {
	Owner     string    `gorm:"primaryKey;type:varchar(64);column:owner"`
	Locked    int64     `gorm:"column:locked;default:0"`
	Paid      int64     `gorm:"column:paid;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (AccountModel) TableName() string { return "custody_accounts" }

// EntryModel MySQL 托管流水表映射，每条指令一行，供对账回放。
type EntryModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement;column:id"`
	Owner     string    `gorm:"column:owner;type:varchar(64);index;not null"`
	Kind      string    `gorm:"column:kind;type:varchar(8);not null"`
	Amount    int64     `gorm:"column:amount;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (EntryModel) TableName() string { return "custody_entries" }

// LedgerCustodian domain.Custodian 的 GORM 实现。
type LedgerCustodian struct {
	db *db.DB
}

// NewLedgerCustodian 创建托管台账。
func NewLedgerCustodian(database *db.DB) *LedgerCustodian {
	return &LedgerCustodian{db: database}
}

// AutoMigrate 建表。
func (c *LedgerCustodian) AutoMigrate() error {
	return c.db.AutoMigrate(&AccountModel{}, &EntryModel{})
}

// Lock 锁定抵押。
func (c *LedgerCustodian) Lock(ctx context.Context, owner string, amount int64) error {
	return c.apply(ctx, owner, "LOCK", amount, func(account *AccountModel) error {
		account.Locked += amount
		return nil
	})
}

// Release 释放抵押；超过已锁定量视为台账损坏。
func (c *LedgerCustodian) Release(ctx context.Context, owner string, amount int64) error {
	return c.apply(ctx, owner, "RELEASE", amount, func(account *AccountModel) error {
		if account.Locked < amount {
			return ErrInsufficientLocked
		}
		account.Locked -= amount
		return nil
	})
}

// Payout 行权结算付款。
func (c *LedgerCustodian) Payout(ctx context.Context, owner string, amount int64) error {
	return c.apply(ctx, owner, "PAYOUT", amount, func(account *AccountModel) error {
		account.Paid += amount
		return nil
	})
}

func (c *LedgerCustodian) apply(ctx context.Context, owner, kind string, amount int64, mutate func(*AccountModel) error) error {
	if amount < 0 {
		return fmt.Errorf("custody %s: negative amount %d", kind, amount)
	}
	return c.db.WithTx(ctx, func(tx *gorm.DB) error {
		var account AccountModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("owner = ?", owner).First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			account = AccountModel{Owner: owner}
		} else if err != nil {
			return err
		}

		if err := mutate(&account); err != nil {
			return err
		}
		account.UpdatedAt = time.Now()

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}},
			UpdateAll: true,
		}).Create(&account).Error; err != nil {
			return err
		}
		return tx.Create(&EntryModel{
			Owner:     owner,
			Kind:      kind,
			Amount:    amount,
			CreatedAt: time.Now(),
		}).Error
	})
}

// MemoryCustodian 内存托管实现，测试使用。记录每次指令便于断言。
type MemoryCustodian struct {
	Locks    map[string]int64
	Payouts  map[string]int64
	Releases map[string]int64
	Calls    []string

	// FailPayoutFor 指定账户时该账户付款失败，用于结算跳过路径测试。
	FailPayoutFor string
}

// NewMemoryCustodian 创建内存托管。
func NewMemoryCustodian() *MemoryCustodian {
	return &MemoryCustodian{
		Locks:    make(map[string]int64),
		Payouts:  make(map[string]int64),
		Releases: make(map[string]int64),
	}
}

func (c *MemoryCustodian) Lock(_ context.Context, owner string, amount int64) error {
	c.Locks[owner] += amount
	c.Calls = append(c.Calls, fmt.Sprintf("LOCK %s %d", owner, amount))
	return nil
}

func (c *MemoryCustodian) Release(_ context.Context, owner string, amount int64) error {
	c.Releases[owner] += amount
	c.Calls = append(c.Calls, fmt.Sprintf("RELEASE %s %d", owner, amount))
	return nil
}

func (c *MemoryCustodian) Payout(_ context.Context, owner string, amount int64) error {
	if c.FailPayoutFor != "" && owner == c.FailPayoutFor {
		return fmt.Errorf("custody payout rejected for %s", owner)
	}
	c.Payouts[owner] += amount
	c.Calls = append(c.Calls, fmt.Sprintf("PAYOUT %s %d", owner, amount))
	return nil
}
