package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cornerstone/cornerstone-backend/internal/inventory/events"
	"github.com/cornerstone/cornerstone-backend/internal/inventory/repository"
	"github.com/cornerstone/cornerstone-backend/pkg/actor"
	"github.com/cornerstone/cornerstone-backend/pkg/database"
	"github.com/cornerstone/cornerstone-backend/pkg/errors"
	"github.com/cornerstone/cornerstone-backend/pkg/logger"
	"github.com/cornerstone/cornerstone-backend/pkg/metrics"
	"github.com/shopspring/decimal"
)

// Movement kinds as reported in events and metrics
const (
	MovementIn       = "IN"
	MovementOut      = "OUT"
	MovementTransfer = "TRANSFER"
)

const (
	msgInsufficientStock  = "Insufficient inventory. Cannot remove more than available."
	msgInsufficientSource = "Insufficient inventory at source site."
	msgInvalidDestination = "Please select a valid destination site."
)

// TransferResult holds the paired rows written by a transfer
type TransferResult struct {
	Out *repository.Transaction `json:"transfer_out"`
	In  *repository.Transaction `json:"transfer_in"`
}

// TransactionEngine applies stock movements. Every movement runs in one
// database transaction: the ledger delta and its transaction rows commit
// together or not at all.
type TransactionEngine struct {
	db        *database.DB
	sites     *repository.SiteRepository
	materials *repository.MaterialRepository
	ledger    *repository.LedgerRepository
	txns      *repository.TransactionRepository
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Inventory
	logger    *logger.Logger
}

// NewTransactionEngine creates a new transaction engine
func NewTransactionEngine(
	db *database.DB,
	sites *repository.SiteRepository,
	materials *repository.MaterialRepository,
	ledger *repository.LedgerRepository,
	txns *repository.TransactionRepository,
	publisher *events.InventoryEventPublisher,
	m *metrics.Inventory,
	log *logger.Logger,
) *TransactionEngine {
	return &TransactionEngine{
		db:        db,
		sites:     sites,
		materials: materials,
		ledger:    ledger,
		txns:      txns,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("transaction-engine"),
	}
}

// RecordIn receives stock into a site
func (e *TransactionEngine) RecordIn(ctx context.Context, siteID, materialID string, qty decimal.Decimal, notes string) (*repository.Transaction, error) {
	qty, err := normalizeQuantity(qty)
	if err != nil {
		return nil, e.reject(ctx, MovementIn, err)
	}
	performer := actor.OrSystem(ctx)

	var row *repository.Transaction
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.movableSite(ctx, siteID); err != nil {
			return err
		}
		if _, err := e.materials.GetByID(ctx, materialID); err != nil {
			return err
		}

		balance, err := e.ledger.ApplyDelta(ctx, siteID, materialID, qty)
		if err != nil {
			return err
		}

		row = newRow(siteID, materialID, repository.TransactionIn, qty, balance, nil, performer, notes, time.Now().UTC())
		return e.txns.Create(ctx, row)
	})
	if err != nil {
		return nil, e.reject(ctx, MovementIn, err)
	}

	e.committed(ctx, MovementIn, qty, performer, row)
	return row, nil
}

// RecordOut takes stock out of a site. The line is locked and checked
// before the debit so concurrent withdrawals cannot overdraw it.
func (e *TransactionEngine) RecordOut(ctx context.Context, siteID, materialID string, qty decimal.Decimal, notes string) (*repository.Transaction, error) {
	qty, err := normalizeQuantity(qty)
	if err != nil {
		return nil, e.reject(ctx, MovementOut, err)
	}
	performer := actor.OrSystem(ctx)

	var row *repository.Transaction
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.movableSite(ctx, siteID); err != nil {
			return err
		}
		if _, err := e.materials.GetByID(ctx, materialID); err != nil {
			return err
		}

		onHand, err := e.ledger.LockQuantity(ctx, siteID, materialID)
		if err != nil {
			return err
		}
		if onHand.LessThan(qty) {
			return errors.InsufficientStock(msgInsufficientStock)
		}

		balance, err := e.ledger.ApplyDelta(ctx, siteID, materialID, qty.Neg())
		if err != nil {
			return err
		}

		row = newRow(siteID, materialID, repository.TransactionOut, qty, balance, nil, performer, notes, time.Now().UTC())
		return e.txns.Create(ctx, row)
	})
	if err != nil {
		return nil, e.reject(ctx, MovementOut, err)
	}

	e.committed(ctx, MovementOut, qty, performer, row)
	return row, nil
}

// RecordTransfer moves stock between two sites, writing a TRANSFER_OUT row
// at the source and a TRANSFER_IN row at the destination with the same
// quantity and timestamp.
func (e *TransactionEngine) RecordTransfer(ctx context.Context, sourceID, destID, materialID string, qty decimal.Decimal, notes string) (*TransferResult, error) {
	qty, err := normalizeQuantity(qty)
	if err != nil {
		return nil, e.reject(ctx, MovementTransfer, err)
	}
	if strings.TrimSpace(destID) == "" || destID == sourceID {
		return nil, e.reject(ctx, MovementTransfer, errors.InvalidTransfer(msgInvalidDestination))
	}
	performer := actor.OrSystem(ctx)

	result := &TransferResult{}
	err = e.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := e.movableSite(ctx, sourceID); err != nil {
			return err
		}
		if _, err := e.movableSite(ctx, destID); err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return errors.InvalidTransfer(msgInvalidDestination)
			}
			return err
		}
		if _, err := e.materials.GetByID(ctx, materialID); err != nil {
			return err
		}

		// Lock both lines in site id order so opposing transfers cannot deadlock.
		first, second := sourceID, destID
		if second < first {
			first, second = second, first
		}
		locked := make(map[string]decimal.Decimal, 2)
		for _, id := range []string{first, second} {
			q, err := e.ledger.LockQuantity(ctx, id, materialID)
			if err != nil {
				return err
			}
			locked[id] = q
		}

		if locked[sourceID].LessThan(qty) {
			return errors.InsufficientStock(msgInsufficientSource)
		}

		sourceBalance, err := e.ledger.ApplyDelta(ctx, sourceID, materialID, qty.Neg())
		if err != nil {
			return err
		}
		destBalance, err := e.ledger.ApplyDelta(ctx, destID, materialID, qty)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		result.Out = newRow(sourceID, materialID, repository.TransactionTransferOut, qty, sourceBalance, &destID, performer, notes, now)
		result.In = newRow(destID, materialID, repository.TransactionTransferIn, qty, destBalance, &sourceID, performer, notes, now)

		if err := e.txns.Create(ctx, result.Out); err != nil {
			return err
		}
		return e.txns.Create(ctx, result.In)
	})
	if err != nil {
		return nil, e.reject(ctx, MovementTransfer, err)
	}

	e.committed(ctx, MovementTransfer, qty, performer, result.Out, result.In)
	return result, nil
}

// movableSite loads a site and checks that it accepts movements
func (e *TransactionEngine) movableSite(ctx context.Context, siteID string) (*repository.Site, error) {
	site, err := e.sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !repository.AcceptsMovements(site.Status) {
		return nil, errors.Conflict(fmt.Sprintf("site %s is %s and does not accept stock movements", site.Name, site.Status))
	}
	return site, nil
}

// reject turns a failed movement into the error returned to the caller.
// Anything that is not already an AppError is a store failure.
func (e *TransactionEngine) reject(ctx context.Context, movement string, err error) error {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		appErr = errors.Persistence(err)
		e.logger.Error().Err(err).Str("movement", movement).Msg("movement rolled back")
	} else {
		e.logger.Debug().Str("movement", movement).Str("code", appErr.Code).Msg("movement rejected")
	}
	e.metrics.MovementRejected(movement, appErr.Code)
	return appErr
}

func (e *TransactionEngine) committed(ctx context.Context, movement string, qty decimal.Decimal, performer *actor.Actor, rows ...*repository.Transaction) {
	e.publisher.PublishStockMoved(ctx, movement, rows, performer.ID)
	e.metrics.MovementCommitted(movement, qty)

	evt := e.logger.Info().
		Str("movement", movement).
		Str("material_id", rows[0].MaterialID).
		Str("site_id", rows[0].SiteID).
		Str("quantity", qty.StringFixed(2)).
		Str("performed_by", performer.String())
	if len(rows) > 1 {
		evt = evt.Str("destination_site_id", rows[1].SiteID)
	}
	evt.Msg("stock movement committed")
}

func newRow(siteID, materialID, txType string, qty, balance decimal.Decimal, relatedSiteID *string, performer *actor.Actor, notes string, at time.Time) *repository.Transaction {
	row := &repository.Transaction{
		SiteID:        siteID,
		MaterialID:    materialID,
		Type:          txType,
		Quantity:      qty,
		BalanceAfter:  balance,
		RelatedSiteID: relatedSiteID,
		CreatedAt:     at,
	}
	if !performer.IsSystem() {
		id := performer.ID
		row.UserID = &id
	}
	if n := strings.TrimSpace(notes); n != "" {
		row.Notes = &n
	}
	return row
}
