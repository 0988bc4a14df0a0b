package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type contextKey struct{}

var ErrNoTransaction = errors.New("no transaction in context")

func withTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, contextKey{}, tx)
}

func transactionFromContext(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(contextKey{}).(*gorm.DB)
	return tx
}

// NewTransaction runs f in a transaction. Every client call made with the
// context passed to f joins the transaction; the transaction commits when f
// returns nil and rolls back otherwise.
func NewTransaction(ctx context.Context, client *Client, f func(context.Context) error) error {
	if transactionFromContext(ctx) != nil {
		return f(ctx)
	}
	err := client.connection.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txWithContext := tx.WithContext(ctx)
		return f(withTransaction(ctx, txWithContext))
	})
	return translateError(err)
}

func (client *Client) conn(ctx context.Context) *gorm.DB {
	if tx := transactionFromContext(ctx); tx != nil {
		return tx
	}
	return client.connection.WithContext(ctx)
}
