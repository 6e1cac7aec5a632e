// Package bank implements per-player currency accounts with atomic
// transfers backed by the store's check-and-set transactions.
package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamekeeper/internal/auth"
	"github.com/cory-johannsen/gamekeeper/internal/dispatch"
	"github.com/cory-johannsen/gamekeeper/internal/module"
	"github.com/cory-johannsen/gamekeeper/internal/store"
)

// ErrInsufficientFunds is returned when a transfer or withdrawal
// exceeds the sender's balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// txnRetries bounds optimistic-concurrency retries on version
// conflicts before giving up.
const txnRetries = 5

// account is the persisted balance record.
type account struct {
	Balance int64 `json:"balance"`
}

// transferRecord is the persisted audit entry for one transfer.
type transferRecord struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Amount int64     `json:"amount"`
	At     time.Time `json:"at"`
}

func accountKey(player string) store.Key {
	return store.ModuleKey("bank", "accounts", player)
}

func transferKey(id string) store.Key {
	return store.ModuleKey("bank", "transfers", id)
}

// Descriptor returns the bank module's registration.
func Descriptor() *module.Descriptor {
	return module.NewDescriptor("bank", "1.0.0").
		Command([]string{"bank", "balance"}, auth.RolePlayer, nil,
			balance, "show your balance").
		Command([]string{"bank", "transfer"}, auth.RolePlayer,
			[]module.ArgSpec{
				module.Arg("to", module.ArgString),
				module.Arg("amount", module.ArgInt),
			},
			transfer, "transfer currency to another player").
		Command([]string{"bank", "grant"}, auth.RoleOperator,
			[]module.ArgSpec{
				module.Arg("to", module.ArgString),
				module.Arg("amount", module.ArgInt),
			},
			grant, "mint currency into a player's account")
}

func balance(ctx context.Context, call *module.Call) (any, error) {
	acct, _, err := loadAccount(ctx, call.Store, call.Principal.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"balance": acct.Balance}, nil
}

// transfer debits the caller and credits the recipient in one
// transaction. A concurrent balance change on either side fails the
// version checks and the transfer retries on fresh reads.
func transfer(ctx context.Context, call *module.Call) (any, error) {
	to, _ := call.String("to")
	amount, _ := call.Int("amount")
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", dispatch.ErrValidation)
	}

	// Recipients are addressed by name; resolve against live players.
	toID, err := call.Roster.ResolveName(to)
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %w", to, module.ErrNotFound)
	}
	fromID := call.Principal.ID
	if toID == fromID {
		return nil, fmt.Errorf("%w: cannot transfer to yourself", dispatch.ErrValidation)
	}

	var lastErr error
	for attempt := 0; attempt < txnRetries; attempt++ {
		src, srcVer, err := loadAccount(ctx, call.Store, fromID)
		if err != nil {
			return nil, err
		}
		if src.Balance < amount {
			return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, src.Balance, amount)
		}
		dst, dstVer, err := loadAccount(ctx, call.Store, toID)
		if err != nil {
			return nil, err
		}

		srcData, err := json.Marshal(account{Balance: src.Balance - amount})
		if err != nil {
			return nil, err
		}
		dstData, err := json.Marshal(account{Balance: dst.Balance + amount})
		if err != nil {
			return nil, err
		}
		record, err := json.Marshal(transferRecord{
			From:   fromID,
			To:     toID,
			Amount: amount,
			At:     time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		recordID := fmt.Sprintf("%d-%s", time.Now().UnixNano(), fromID)

		err = call.Store.Txn(ctx,
			[]store.Check{
				{Key: accountKey(fromID), Version: srcVer},
				{Key: accountKey(toID), Version: dstVer},
			},
			[]store.Write{
				{Key: accountKey(fromID), Data: srcData},
				{Key: accountKey(toID), Data: dstData},
				{Key: transferKey(recordID), Data: record},
			})
		if err == nil {
			call.Logger.Info("transfer complete",
				zap.String("to", toID),
				zap.Int64("amount", amount))
			if call.Messenger != nil {
				call.Messenger.SendToPlayer(toID, map[string]any{
					"event":  "bank.received",
					"from":   call.Principal.Name,
					"amount": amount,
				})
			}
			return map[string]any{"balance": src.Balance - amount}, nil
		}
		if !errors.Is(err, store.ErrTxnConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("transfer contention: %w", lastErr)
}

// grant mints currency into a player's account.
func grant(ctx context.Context, call *module.Call) (any, error) {
	to, _ := call.String("to")
	amount, _ := call.Int("amount")
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", dispatch.ErrValidation)
	}
	toID, err := call.Roster.ResolveName(to)
	if err != nil {
		return nil, fmt.Errorf("recipient %q: %w", to, module.ErrNotFound)
	}

	var lastErr error
	for attempt := 0; attempt < txnRetries; attempt++ {
		acct, ver, err := loadAccount(ctx, call.Store, toID)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(account{Balance: acct.Balance + amount})
		if err != nil {
			return nil, err
		}
		err = call.Store.Txn(ctx,
			[]store.Check{{Key: accountKey(toID), Version: ver}},
			[]store.Write{{Key: accountKey(toID), Data: data}})
		if err == nil {
			call.Logger.Info("grant complete",
				zap.String("to", toID),
				zap.Int64("amount", amount))
			return map[string]any{"balance": acct.Balance + amount}, nil
		}
		if !errors.Is(err, store.ErrTxnConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("grant contention: %w", lastErr)
}

// loadAccount returns the account and its store version, with version 0
// and a zero balance for players who have no record yet.
func loadAccount(ctx context.Context, st store.Store, playerID string) (account, int64, error) {
	val, err := st.Get(ctx, accountKey(playerID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return account{}, 0, nil
		}
		return account{}, 0, err
	}
	var acct account
	if err := json.Unmarshal(val.Data, &acct); err != nil {
		return account{}, 0, fmt.Errorf("decoding account %q: %w", playerID, err)
	}
	return acct, val.Version, nil
}
