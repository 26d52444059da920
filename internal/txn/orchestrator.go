// Package txn builds, budgets, signs and submits workflow transactions and
// reports their effects. It never writes auction records.
package txn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"auctionhouse/internal/chain"
	"auctionhouse/internal/metrics"
	"auctionhouse/internal/models"
	"auctionhouse/internal/repository"
	"auctionhouse/internal/retry"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance for transaction")
	ErrEmptyDraft          = errors.New("transaction draft has no commands")
	ErrNoGasCoins          = errors.New("sender has no gas coins")
	ErrSenderMismatch      = errors.New("transaction sender does not match")
	ErrNoSigner            = errors.New("no signing key configured")
)

// ExecutionError means the ledger executed the transaction and reported
// failure. The state it acted on must be re-read before another attempt.
type ExecutionError struct {
	Action string
	Digest string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s transaction %s failed: %s", e.Action, e.Digest, e.Reason)
}

func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// BudgetPolicy turns a simulated gas cost into a budget.
type BudgetPolicy struct {
	Floor      uint64
	Multiplier decimal.Decimal
	Fallback   uint64
}

func (p BudgetPolicy) FromGas(used uint64) uint64 {
	mult := p.Multiplier
	if mult.LessThanOrEqual(decimal.Zero) {
		mult = decimal.NewFromInt(1)
	}
	budget := uint64(decimal.NewFromInt(int64(used)).Mul(mult).Ceil().IntPart())
	if budget < p.Floor {
		return p.Floor
	}
	return budget
}

type Config struct {
	AdminAddress chain.Address
	PackageID    chain.ID
	KioskID      chain.ID
	KioskCapID   chain.ID
	ClockID      chain.ID

	AdminBudget BudgetPolicy
	UserBudget  BudgetPolicy
	// ProbeBudget caps the budget used for the simulation itself.
	ProbeBudget uint64
}

// Draft is an unbudgeted transaction for one workflow action.
type Draft struct {
	Action    string
	AuctionID string
	Sender    chain.Address
	Tx        *chain.ProgrammableTx
	// Spend is value leaving the sender besides gas (a bid amount).
	Spend uint64
	// User selects the wallet-signed budget policy.
	User bool
}

// Prepared is a budgeted, unsigned transaction.
type Prepared struct {
	Action  string `json:"action"`
	TxBytes string `json:"tx_bytes"`
	Budget  uint64 `json:"gas_budget"`
	Sender  string `json:"sender"`

	raw []byte
}

type Result struct {
	Action  string
	Digest  string
	Budget  uint64
	Effects *chain.Effects
	Created []chain.ID
}

type Orchestrator struct {
	Gateway chain.Gateway
	Signer  *chain.Keypair
	Config  Config
	// Retry covers submission of identical signed bytes and the
	// re-validated resubmissions of SubmitRevalidated.
	Retry     retry.Policy
	ReadRetry retry.Policy
	Audit     repository.ChainTxRepository
	Logger    *zap.Logger
}

type gasContext struct {
	coins   []chain.ObjectRef
	balance uint64
	price   uint64
}

func (o *Orchestrator) policy(d *Draft) BudgetPolicy {
	if d != nil && d.User {
		return o.Config.UserBudget
	}
	return o.Config.AdminBudget
}

func (o *Orchestrator) read(ctx context.Context, fn func(ctx context.Context) error) error {
	p := o.ReadRetry
	if p.Retriable == nil {
		p.Retriable = chain.IsTransient
	}
	return p.Do(ctx, func(ctx context.Context, _ int) error { return fn(ctx) })
}

func (o *Orchestrator) loadGas(ctx context.Context, sender chain.Address) (gasContext, error) {
	var gc gasContext
	err := o.read(ctx, func(ctx context.Context) error {
		coins, err := o.Gateway.GetCoins(ctx, sender)
		if err != nil {
			return err
		}
		price, err := o.Gateway.ReferenceGasPrice(ctx)
		if err != nil {
			return err
		}
		gc = gasContext{price: price}
		for _, c := range coins {
			gc.coins = append(gc.coins, c.Ref)
			gc.balance += c.Balance
		}
		return nil
	})
	if err != nil {
		return gasContext{}, err
	}
	if len(gc.coins) == 0 {
		return gasContext{}, ErrNoGasCoins
	}
	// Gas payment takes at most 255 coins.
	if len(gc.coins) > 255 {
		gc.coins = gc.coins[:255]
	}
	return gc, nil
}

func (o *Orchestrator) bytes(d *Draft, gc gasContext, budget uint64) ([]byte, error) {
	return chain.TxData{
		Tx:         d.Tx,
		Sender:     d.Sender,
		GasPayment: gc.coins,
		GasPrice:   gc.price,
		GasBudget:  budget,
	}.Bytes()
}

func validate(d *Draft) error {
	if d == nil || d.Tx == nil || d.Tx.Commands() == 0 {
		return ErrEmptyDraft
	}
	if d.Sender.IsZero() {
		return fmt.Errorf("%w: empty sender", chain.ErrInvalidObjectID)
	}
	return nil
}

// EstimateBudget simulates the draft and derives a budget. Any simulation
// failure yields the policy fallback instead of an error.
func (o *Orchestrator) EstimateBudget(ctx context.Context, d *Draft) uint64 {
	if err := validate(d); err != nil {
		return o.policy(d).Fallback
	}
	gc, err := o.loadGas(ctx, d.Sender)
	if err != nil {
		o.warn("gas context unavailable, using fallback budget", d, err)
		return o.policy(d).Fallback
	}
	return o.estimate(ctx, d, gc)
}

func (o *Orchestrator) estimate(ctx context.Context, d *Draft, gc gasContext) uint64 {
	p := o.policy(d)
	probe := o.Config.ProbeBudget
	if probe == 0 {
		probe = 50_000_000_000
	}
	if avail := subFloor(gc.balance, d.Spend); avail < probe {
		probe = avail
	}
	if probe == 0 {
		return p.Fallback
	}
	txBytes, err := o.bytes(d, gc, probe)
	if err != nil {
		o.warn("dry run build failed, using fallback budget", d, err)
		return p.Fallback
	}
	eff, err := o.Gateway.DryRun(ctx, txBytes)
	if err != nil {
		o.warn("dry run failed, using fallback budget", d, err)
		return p.Fallback
	}
	if !eff.Success {
		o.warn("dry run reported failure, using fallback budget", d, errors.New(eff.Error))
		return p.Fallback
	}
	return p.FromGas(eff.GasUsed.Net())
}

// Prepare validates, budgets and serializes a draft without signing it.
func (o *Orchestrator) Prepare(ctx context.Context, d *Draft) (*Prepared, error) {
	if err := validate(d); err != nil {
		return nil, err
	}
	gc, err := o.loadGas(ctx, d.Sender)
	if err != nil {
		return nil, err
	}
	budget := o.estimate(ctx, d, gc)
	if gc.balance < budget+d.Spend {
		metrics.ObserveTxSubmission(d.Action, "insufficient")
		return nil, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientBalance, gc.balance, budget+d.Spend)
	}
	raw, err := o.bytes(d, gc, budget)
	if err != nil {
		return nil, err
	}
	return &Prepared{
		Action:  d.Action,
		TxBytes: base64.StdEncoding.EncodeToString(raw),
		Budget:  budget,
		Sender:  d.Sender.String(),
		raw:     raw,
	}, nil
}

// Submit prepares, signs with the service key and executes the draft.
func (o *Orchestrator) Submit(ctx context.Context, d *Draft) (*Result, error) {
	if o.Signer == nil {
		return nil, ErrNoSigner
	}
	if d != nil && d.Sender.IsZero() {
		d.Sender = o.Signer.Address()
	}
	if d != nil && d.Sender != o.Signer.Address() {
		return nil, ErrSenderMismatch
	}
	prep, err := o.Prepare(ctx, d)
	if err != nil {
		return nil, err
	}
	sig := o.Signer.SignTransaction(prep.raw)
	return o.execute(ctx, d.Action, d.AuctionID, d.Sender, prep.raw, prep.Budget, sig)
}

// ExecuteSigned submits wallet-signed bytes and checks they were sent by
// the expected address.
func (o *Orchestrator) ExecuteSigned(ctx context.Context, action, auctionID string, txBase64, signature string, sender chain.Address) (*Result, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("invalid transaction bytes: %w", err)
	}
	if signature == "" {
		return nil, errors.New("missing signature")
	}
	return o.execute(ctx, action, auctionID, sender, raw, 0, signature)
}

// SubmitRevalidated rebuilds the draft from fresh reads before every
// attempt, so a retry never replays a decision made on stale state. Only
// executed-and-failed attempts are retried here; transient submission
// errors are retried inside Submit.
func (o *Orchestrator) SubmitRevalidated(ctx context.Context, build func(ctx context.Context) (*Draft, error)) (*Result, error) {
	p := o.Retry
	p.Retriable = IsExecutionError
	var res *Result
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		d, err := build(ctx)
		if err != nil {
			return err
		}
		if attempt > 1 && o.Logger != nil {
			o.Logger.Info("resubmitting after re-validation", zap.String("action", d.Action), zap.Int("attempt", attempt))
		}
		res, err = o.Submit(ctx, d)
		return err
	})
	return res, err
}

func (o *Orchestrator) execute(ctx context.Context, action, auctionID string, sender chain.Address, raw []byte, budget uint64, signature string) (*Result, error) {
	audit := o.startAudit(ctx, action, auctionID, sender, budget)

	p := o.Retry
	p.Retriable = chain.IsTransient
	var eff *chain.Effects
	attempts := 0
	// Identical signed bytes carry the same digest; resubmission cannot
	// execute twice.
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		var err error
		eff, err = o.Gateway.Execute(ctx, raw, []string{signature})
		if err != nil && o.Logger != nil {
			o.Logger.Warn("transaction submission failed",
				zap.String("action", action),
				zap.String("auction_id", auctionID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		metrics.ObserveTxSubmission(action, "error")
		o.finishAudit(ctx, audit, attempts, nil, err)
		return nil, err
	}
	if !eff.Success {
		execErr := &ExecutionError{Action: action, Digest: eff.Digest, Reason: eff.Error}
		metrics.ObserveTxSubmission(action, "failed")
		o.finishAudit(ctx, audit, attempts, eff, execErr)
		return nil, execErr
	}
	if !sender.IsZero() && !eff.Sender.IsZero() && eff.Sender != sender {
		metrics.ObserveTxSubmission(action, "sender_mismatch")
		o.finishAudit(ctx, audit, attempts, eff, ErrSenderMismatch)
		return nil, ErrSenderMismatch
	}
	metrics.ObserveTxSubmission(action, "success")
	o.finishAudit(ctx, audit, attempts, eff, nil)
	if o.Logger != nil {
		o.Logger.Info("transaction executed",
			zap.String("action", action),
			zap.String("auction_id", auctionID),
			zap.String("digest", eff.Digest),
			zap.Uint64("gas_used", eff.GasUsed.Net()),
		)
	}
	return &Result{
		Action:  action,
		Digest:  eff.Digest,
		Budget:  budget,
		Effects: eff,
		Created: eff.Created(""),
	}, nil
}

func (o *Orchestrator) startAudit(ctx context.Context, action, auctionID string, sender chain.Address, budget uint64) *models.ChainTx {
	if o.Audit == nil {
		return nil
	}
	item := &models.ChainTx{
		AuctionID: auctionID,
		Action:    action,
		Sender:    sender.String(),
		GasBudget: int64(budget),
		Status:    "submitting",
	}
	if err := o.Audit.InsertChainTx(ctx, item); err != nil {
		if o.Logger != nil {
			o.Logger.Warn("chain tx audit insert failed", zap.String("action", action), zap.Error(err))
		}
		return nil
	}
	return item
}

func (o *Orchestrator) finishAudit(ctx context.Context, item *models.ChainTx, attempts int, eff *chain.Effects, err error) {
	if o.Audit == nil || item == nil || item.ID == 0 {
		return
	}
	patch := repository.Patch{"attempts": attempts, "updated_at": time.Now().UTC()}
	switch {
	case err == nil:
		patch["status"] = "success"
	case IsExecutionError(err):
		patch["status"] = "failed"
		patch["error"] = err.Error()
	default:
		patch["status"] = "error"
		patch["error"] = err.Error()
	}
	if eff != nil {
		patch["digest"] = eff.Digest
		patch["gas_used"] = int64(eff.GasUsed.Net())
		ids := eff.Created("")
		if len(ids) > 0 {
			if b, mErr := json.Marshal(ids); mErr == nil {
				patch["created"] = datatypes.JSON(b)
			}
		}
	}
	if uErr := o.Audit.UpdateChainTx(ctx, item.ID, patch); uErr != nil && o.Logger != nil {
		o.Logger.Warn("chain tx audit update failed", zap.Uint64("id", item.ID), zap.Error(uErr))
	}
}

func (o *Orchestrator) warn(msg string, d *Draft, err error) {
	if o.Logger == nil {
		return
	}
	action := ""
	if d != nil {
		action = d.Action
	}
	o.Logger.Warn(msg, zap.String("action", action), zap.Error(err))
}

func subFloor(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
