// Package exchange implements the order matching and settlement engine: fund
// and asset reservation at placement, single counter-order selection under
// price-time priority, atomic settlement with fee deduction, and cancellation.
//
// Every operation runs as one transaction against the shared store. Rows are
// locked in a fixed global order (users, then asset rows, then orders, each by
// ascending id) so concurrent settlements cannot deadlock; lock waits are
// bounded and surface as ErrContention, which callers may retry whole.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/xtrntr/matchbook/internal/db"
	"github.com/xtrntr/matchbook/internal/events"
	"github.com/xtrntr/matchbook/internal/models"
	"github.com/xtrntr/matchbook/internal/money"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientFunds means the buyer's balance cannot cover price*amount.
	ErrInsufficientFunds = errors.New("insufficient balance for buy order")
	// ErrInsufficientAsset means the seller's free holdings cannot cover the amount.
	ErrInsufficientAsset = errors.New("insufficient asset balance for sell order")
	// ErrOrderNotFound means no order exists with the given id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrNotOwner means the order belongs to a different user.
	ErrNotOwner = errors.New("order does not belong to user")
	// ErrNotOpen means the order has already been filled or cancelled.
	ErrNotOpen = errors.New("order is not open")
	// ErrNoCounterOrder is the normal negative result of matching: no eligible
	// counter-order exists right now.
	ErrNoCounterOrder = errors.New("no valid counter order found")
	// ErrStaleOrder means an order left the open state between candidate
	// selection and settlement; nothing was written.
	ErrStaleOrder = errors.New("order state changed before settlement")
	// ErrContention means a row lock wait timed out; the whole operation may
	// be retried.
	ErrContention = errors.New("ledger row contention")
)

// Engine executes all order lifecycle operations against the store.
type Engine struct {
	db  *db.DB
	log *zap.Logger
}

// NewEngine creates a new engine.
func NewEngine(database *db.DB, log *zap.Logger) *Engine {
	return &Engine{db: database, log: log}
}

// PlaceRequest describes a new order to open.
type PlaceRequest struct {
	Symbol string
	Side   models.OrderSide
	Price  money.Price
	Amount money.Amount
}

// MatchResult is the committed outcome of a settlement.
type MatchResult struct {
	Order     *models.Order // the initiating order, post-settlement
	Counter   *models.Order
	BuyOrder  *models.Order
	SellOrder *models.Order
	Price     money.Price
	Amount    money.Amount
	Fee       money.Balance
}

// Place atomically reserves capacity and opens an order. Buy orders debit the
// user's balance by price*amount; sell orders move the amount from the asset's
// free holdings into its locked holdings. On success it returns the open order
// and the events to publish now that the reservation is committed.
func (e *Engine) Place(ctx context.Context, userID int64, req PlaceRequest) (*models.Order, []events.Event, error) {
	if req.Symbol == "" {
		return nil, nil, fmt.Errorf("symbol must not be empty")
	}
	if !req.Side.Valid() {
		return nil, nil, fmt.Errorf("side must be %q or %q", models.SideBuy, models.SideSell)
	}
	if req.Price.Cmp(money.Price{}) <= 0 {
		return nil, nil, fmt.Errorf("price must be positive")
	}
	if req.Amount.Cmp(money.Amount{}) <= 0 {
		return nil, nil, fmt.Errorf("amount must be positive")
	}

	var order *models.Order
	err := e.db.RunTx(ctx, func(tx pgx.Tx) error {
		if req.Side == models.SideBuy {
			user, err := e.db.GetUserForUpdate(ctx, tx, userID)
			if err != nil {
				return err
			}
			cost := req.Price.Times(req.Amount)
			if user.Balance.Cmp(cost) < 0 {
				return ErrInsufficientFunds
			}
			if err := e.db.UpdateUserBalance(ctx, tx, userID, user.Balance.Sub(cost)); err != nil {
				return err
			}
		} else {
			asset, err := e.db.GetAssetForUpdate(ctx, tx, userID, req.Symbol)
			if err != nil {
				return err
			}
			if asset.Amount.Cmp(req.Amount) < 0 {
				return ErrInsufficientAsset
			}
			err = e.db.UpdateAsset(ctx, tx, asset.ID,
				asset.Amount.Sub(req.Amount), asset.LockedAmount.Add(req.Amount))
			if err != nil {
				return err
			}
		}

		var err error
		order, err = e.db.CreateOrder(ctx, tx, &models.Order{
			UserID: userID,
			Symbol: req.Symbol,
			Side:   req.Side,
			Price:  req.Price,
			Amount: req.Amount,
		})
		return err
	})
	if err != nil {
		return nil, nil, wrapContention(err)
	}

	e.log.Info("order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)))

	return order, []events.Event{events.OrderPlaced(order)}, nil
}

// Match finds the single best eligible counter-order for the given open order
// and settles the pair atomically at the initiating order's price. The
// candidate search runs unlocked; the settlement transaction re-validates that
// both orders are still open after acquiring row locks.
func (e *Engine) Match(ctx context.Context, userID, orderID int64) (*MatchResult, []events.Event, error) {
	order, err := e.db.GetOrder(ctx, e.db.Pool, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil, ErrOrderNotFound
		}
		return nil, nil, err
	}
	if order.UserID != userID {
		return nil, nil, ErrNotOwner
	}
	if !order.IsOpen() {
		return nil, nil, ErrNotOpen
	}

	counter, err := e.db.FindCounterOrder(ctx, e.db.Pool, order)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil, ErrNoCounterOrder
		}
		return nil, nil, err
	}

	result, err := e.settle(ctx, order, counter)
	if err != nil {
		return nil, nil, wrapContention(err)
	}

	e.log.Info("orders matched",
		zap.Int64("buy_order_id", result.BuyOrder.ID),
		zap.Int64("sell_order_id", result.SellOrder.ID),
		zap.String("symbol", result.SellOrder.Symbol),
		zap.String("price", result.Price.String()),
		zap.String("amount", result.Amount.String()),
		zap.String("fee", result.Fee.String()))

	evt := events.OrderMatched(result.BuyOrder, result.SellOrder, result.Price, result.Amount, result.Fee)
	return result, []events.Event{evt}, nil
}

// settle transfers value between a validated buy/sell pair as one transaction:
// the seller's locked holdings shrink by the matched amount, the seller is
// credited volume minus fee, the buyer's free holdings grow by the matched
// amount, and both orders become filled. The fee is deducted and not credited
// to any party.
func (e *Engine) settle(ctx context.Context, order, counter *models.Order) (*MatchResult, error) {
	// the initiating order's price is authoritative
	price := order.Price
	amount := order.Amount
	volume := price.Times(amount)
	fee := money.Fee(volume)
	sellerCredit := volume.Sub(fee)

	buy, sell := order, counter
	if order.Side == models.SideSell {
		buy, sell = counter, order
	}

	var freshBuy, freshSell *models.Order
	err := e.db.RunTx(ctx, func(tx pgx.Tx) error {
		userIDs := sortedUnique(buy.UserID, sell.UserID)

		users := make(map[int64]*models.User, len(userIDs))
		for _, id := range userIDs {
			user, err := e.db.GetUserForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			users[id] = user
		}

		assets := make(map[int64]*models.Asset, len(userIDs))
		for _, id := range userIDs {
			asset, err := e.db.GetAssetForUpdate(ctx, tx, id, sell.Symbol)
			if err != nil {
				return err
			}
			assets[id] = asset
		}

		fresh := make(map[int64]*models.Order, 2)
		for _, id := range sortedUnique(buy.ID, sell.ID) {
			o, err := e.db.GetOrderForUpdate(ctx, tx, id)
			if err != nil {
				return err
			}
			// an order concurrently cancelled or matched invalidates the pair
			if !o.IsOpen() {
				return ErrStaleOrder
			}
			fresh[id] = o
		}
		freshBuy, freshSell = fresh[buy.ID], fresh[sell.ID]

		sellerAsset := assets[sell.UserID]
		if sellerAsset.LockedAmount.Cmp(amount) < 0 {
			return fmt.Errorf("seller locked amount %s below matched amount %s",
				sellerAsset.LockedAmount, amount)
		}
		sellerAsset.LockedAmount = sellerAsset.LockedAmount.Sub(amount)

		buyerAsset := assets[buy.UserID]
		buyerAsset.Amount = buyerAsset.Amount.Add(amount)

		for _, id := range userIDs {
			if err := e.db.UpdateAsset(ctx, tx, assets[id].ID, assets[id].Amount, assets[id].LockedAmount); err != nil {
				return err
			}
		}

		seller := users[sell.UserID]
		if err := e.db.UpdateUserBalance(ctx, tx, sell.UserID, seller.Balance.Add(sellerCredit)); err != nil {
			return err
		}

		if err := e.db.UpdateOrderStatus(ctx, tx, buy.ID, models.StatusFilled); err != nil {
			return err
		}
		return e.db.UpdateOrderStatus(ctx, tx, sell.ID, models.StatusFilled)
	})
	if err != nil {
		return nil, err
	}

	freshBuy.Status = models.StatusFilled
	freshSell.Status = models.StatusFilled

	result := &MatchResult{
		BuyOrder:  freshBuy,
		SellOrder: freshSell,
		Price:     price,
		Amount:    amount,
		Fee:       fee,
	}
	if order.Side == models.SideBuy {
		result.Order, result.Counter = freshBuy, freshSell
	} else {
		result.Order, result.Counter = freshSell, freshBuy
	}
	return result, nil
}

// Cancel reverses the original reservation of an open order the user owns and
// marks it cancelled. A second cancel of the same order fails with ErrNotOpen.
func (e *Engine) Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := e.db.GetOrder(ctx, e.db.Pool, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrNotOwner
	}
	if !order.IsOpen() {
		return nil, ErrNotOpen
	}

	var cancelled *models.Order
	err = e.db.RunTx(ctx, func(tx pgx.Tx) error {
		// lock the ledger row first, then the order, matching the global
		// users < assets < orders lock order used by settlement
		var user *models.User
		var asset *models.Asset
		if order.Side == models.SideBuy {
			if user, err = e.db.GetUserForUpdate(ctx, tx, userID); err != nil {
				return err
			}
		} else {
			if asset, err = e.db.GetAssetForUpdate(ctx, tx, userID, order.Symbol); err != nil {
				return err
			}
		}

		fresh, err := e.db.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if !fresh.IsOpen() {
			return ErrNotOpen
		}

		if fresh.Side == models.SideBuy {
			cost := fresh.Price.Times(fresh.Amount)
			if err := e.db.UpdateUserBalance(ctx, tx, userID, user.Balance.Add(cost)); err != nil {
				return err
			}
		} else {
			if asset.LockedAmount.Cmp(fresh.Amount) < 0 {
				return fmt.Errorf("locked amount %s below order amount %s", asset.LockedAmount, fresh.Amount)
			}
			err = e.db.UpdateAsset(ctx, tx, asset.ID,
				asset.Amount.Add(fresh.Amount), asset.LockedAmount.Sub(fresh.Amount))
			if err != nil {
				return err
			}
		}

		if err := e.db.UpdateOrderStatus(ctx, tx, orderID, models.StatusCancelled); err != nil {
			return err
		}
		fresh.Status = models.StatusCancelled
		cancelled = fresh
		return nil
	})
	if err != nil {
		return nil, wrapContention(err)
	}

	e.log.Info("order cancelled", zap.Int64("order_id", orderID), zap.Int64("user_id", userID))
	return cancelled, nil
}

// ListOpen returns open orders oldest first, optionally filtered by symbol.
// Pages are 1-based.
func (e *Engine) ListOpen(ctx context.Context, symbol string, page, perPage int) ([]models.Order, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}
	return e.db.ListOpenOrders(ctx, symbol, perPage, (page-1)*perPage)
}

// ListUserOrders returns the user's orders newest first with optional filters.
func (e *Engine) ListUserOrders(ctx context.Context, userID int64, filter db.OrderFilter, page, perPage int) ([]models.Order, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}
	return e.db.ListUserOrders(ctx, userID, filter, perPage, (page-1)*perPage)
}

func wrapContention(err error) error {
	if db.IsLockTimeout(err) {
		return fmt.Errorf("%w: %s", ErrContention, err)
	}
	return err
}

func sortedUnique(ids ...int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
