package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"StableVault/internal/event"
	"StableVault/internal/ledger"
	fpmath "StableVault/internal/math"
	"StableVault/internal/observability"
	"StableVault/internal/pricing"
	"StableVault/internal/state"
	"StableVault/internal/token"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EngineOutput is what the engine hands to the persistence and
// projection workers: the event envelope plus the journal batch it
// produced (nil for state-only events such as price updates).
type EngineOutput struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch
}

// EngineParams collects everything the engine needs at construction.
type EngineParams struct {
	LiabilitySymbol  string
	Collateral       *state.CollateralConfig
	Stable           token.StableToken
	CollateralTokens map[string]token.Asset
	Feeds            *pricing.FeedCache
	Valuer           *pricing.Valuer

	// CustodyID is the engine's own holder identity on the token side.
	CustodyID uuid.UUID

	StartSequence int64

	PersistChan    chan<- EngineOutput
	ProjectionChan chan<- EngineOutput

	DBChecker DBIdempotencyChecker
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// Engine is the solvency core. Every state-changing operation runs in
// three phases under one mutex: validate, apply journals, then external
// token calls plus the closing health check. A failure in the later
// phases unwinds the earlier ones, so observers only ever see the
// position before or after a whole operation.
type Engine struct {
	mu sync.Mutex

	liabilityID ledger.AssetID
	cfg         *state.CollateralConfig
	stable      token.StableToken
	collateral  map[string]token.Asset
	feeds       *pricing.FeedCache
	valuer      *pricing.Valuer
	custodyID   uuid.UUID

	sequence    int64
	hasher      *StateHasher
	tracker     *ledger.BalanceTracker
	journalGen  *ledger.JournalGenerator
	validator   *ledger.InvariantValidator
	idempotency *IdempotencyChecker

	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time

	persistChan    chan<- EngineOutput
	projectionChan chan<- EngineOutput
}

func NewEngine(p EngineParams) (*Engine, error) {
	if p.Collateral == nil {
		return nil, state.ErrEmptyCollateralSet
	}

	ledger.RegisterAssets(p.LiabilitySymbol, p.Collateral.Assets())
	liabilityID, _ := ledger.GetAssetID(p.LiabilitySymbol)

	for _, asset := range p.Collateral.Assets() {
		if _, ok := p.CollateralTokens[asset]; !ok {
			return nil, fmt.Errorf("no token bound for collateral asset %s", asset)
		}
	}

	tracker := ledger.NewBalanceTracker()

	return &Engine{
		liabilityID:    liabilityID,
		cfg:            p.Collateral,
		stable:         p.Stable,
		collateral:     p.CollateralTokens,
		feeds:          p.Feeds,
		valuer:         p.Valuer,
		custodyID:      p.CustodyID,
		sequence:       p.StartSequence,
		hasher:         NewStateHasher(),
		tracker:        tracker,
		journalGen:     ledger.NewJournalGenerator(p.StartSequence),
		validator:      ledger.NewInvariantValidator(tracker),
		idempotency:    NewIdempotencyChecker(1_000_000, p.DBChecker),
		metrics:        p.Metrics,
		log:            p.Logger,
		now:            time.Now,
		persistChan:    p.PersistChan,
		projectionChan: p.ProjectionChan,
	}, nil
}

// pendingOutput is a not-yet-emitted event plus its undo. Composites
// accumulate these and either emit all or unwind all.
type pendingOutput struct {
	record event.Record
	batch  *ledger.Batch
	undo   func()
}

// ============================================================================
// Operations
// ============================================================================

// DepositCollateral locks amount of asset as the user's collateral.
func (e *Engine) DepositCollateral(requestID string, userID uuid.UUID, asset string, amount *big.Int) error {
	return e.runOp("deposit", func() ([]pendingOutput, error) {
		out, err := e.applyDeposit(requestID, userID, asset, amount)
		if err != nil {
			return nil, err
		}
		return []pendingOutput{out}, nil
	})
}

// RedeemCollateral returns amount of asset to the user, provided the
// remaining position stays healthy.
func (e *Engine) RedeemCollateral(requestID string, userID uuid.UUID, asset string, amount *big.Int) error {
	return e.runOp("redeem", func() ([]pendingOutput, error) {
		out, err := e.applyRedeem(requestID, userID, asset, amount)
		if err != nil {
			return nil, err
		}
		if err := e.requireHealthy(userID); err != nil {
			out.undo()
			return nil, err
		}
		return []pendingOutput{out}, nil
	})
}

// MintDebt issues amount of the liability token against the user's
// collateral.
func (e *Engine) MintDebt(requestID string, userID uuid.UUID, amount *big.Int) error {
	return e.runOp("mint", func() ([]pendingOutput, error) {
		out, err := e.applyMint(requestID, userID, amount)
		if err != nil {
			return nil, err
		}
		return []pendingOutput{out}, nil
	})
}

// BurnDebt retires amount of the user's own debt, pulling the tokens
// from the user's balance.
func (e *Engine) BurnDebt(requestID string, userID uuid.UUID, amount *big.Int) error {
	return e.runOp("burn", func() ([]pendingOutput, error) {
		out, err := e.applyBurn(requestID, userID, userID, amount)
		if err != nil {
			return nil, err
		}
		return []pendingOutput{out}, nil
	})
}

// DepositAndMint is the one-shot open: deposit collateral and mint debt
// atomically. Either both legs land or neither does.
func (e *Engine) DepositAndMint(requestID string, userID uuid.UUID, asset string, depositAmount, mintAmount *big.Int) error {
	return e.runOp("deposit_and_mint", func() ([]pendingOutput, error) {
		dep, err := e.applyDeposit(requestID, userID, asset, depositAmount)
		if err != nil {
			return nil, err
		}
		mint, err := e.applyMint(requestID, userID, mintAmount)
		if err != nil {
			dep.undo()
			return nil, err
		}
		return []pendingOutput{dep, mint}, nil
	})
}

// BurnAndRedeem is the one-shot close: repay debt and withdraw
// collateral atomically.
func (e *Engine) BurnAndRedeem(requestID string, userID uuid.UUID, asset string, burnAmount, redeemAmount *big.Int) error {
	return e.runOp("burn_and_redeem", func() ([]pendingOutput, error) {
		burn, err := e.applyBurn(requestID, userID, userID, burnAmount)
		if err != nil {
			return nil, err
		}
		redeem, err := e.applyRedeem(requestID, userID, asset, redeemAmount)
		if err != nil {
			burn.undo()
			return nil, err
		}
		if err := e.requireHealthy(userID); err != nil {
			redeem.undo()
			burn.undo()
			return nil, err
		}
		return []pendingOutput{burn, redeem}, nil
	})
}

// Liquidate lets the liquidator repay debtToCover of the target's debt
// in exchange for the equivalent collateral plus the liquidation bonus.
// The target must start unhealthy and must end strictly healthier.
func (e *Engine) Liquidate(requestID string, liquidatorID, targetID uuid.UUID, asset string, debtToCover *big.Int) error {
	return e.runOp("liquidate", func() ([]pendingOutput, error) {
		if debtToCover == nil || debtToCover.Sign() <= 0 {
			return nil, ErrZeroAmount
		}
		if !e.cfg.Supports(asset) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
		}

		startFactor, err := e.healthFactorOf(targetID)
		if err != nil {
			return nil, err
		}
		if fpmath.IsHealthy(startFactor) {
			return nil, ErrHealthFactorOk
		}

		// Seizure = collateral worth debtToCover, plus the 10% bonus. The
		// target must fund the whole seizure; at or below 100%
		// collateralization the bonus has no funding and the liquidation
		// fails.
		seize, err := e.valuer.QuantityFromValue(asset, debtToCover)
		if err != nil {
			return nil, err
		}
		if seize.Sign() <= 0 {
			return nil, fmt.Errorf("%w: debt to cover is worth less than one unit of %s", ErrZeroAmount, asset)
		}
		bonus := fpmath.MulDiv(seize, big.NewInt(fpmath.LiquidationBonus), big.NewInt(fpmath.LiquidationPrecision))
		seize.Add(seize, bonus)

		assetID, _ := ledger.GetAssetID(asset)
		if held := e.tracker.GetCollateralBalance(targetID, assetID); seize.Cmp(held) > 0 {
			return nil, fmt.Errorf("%w: seizure %s exceeds held %s %s", ErrInsufficientCollateral, seize, asset, held)
		}

		burn, err := e.applyBurn("liq:"+requestID, targetID, liquidatorID, debtToCover)
		if err != nil {
			return nil, err
		}
		seized, err := e.applySeize(requestID, targetID, liquidatorID, asset, seize)
		if err != nil {
			burn.undo()
			return nil, err
		}

		unwind := func() {
			seized.undo()
			burn.undo()
		}

		endFactor, err := e.healthFactorOf(targetID)
		if err != nil {
			unwind()
			return nil, err
		}
		if endFactor.Cmp(startFactor) <= 0 {
			unwind()
			return nil, ErrHealthFactorNotImproved
		}
		if err := e.requireHealthy(liquidatorID); err != nil {
			unwind()
			return nil, err
		}

		seized.record = &event.PositionLiquidated{
			RequestID:    requestID,
			TargetID:     targetID,
			LiquidatorID: liquidatorID,
			Asset:        asset,
			DebtCovered:  new(big.Int).Set(debtToCover),
			SeizedAmount: seize,
			EndFactor:    endFactor,
		}

		if e.metrics != nil {
			e.metrics.LiquidationsTotal.Inc()
		}
		return []pendingOutput{burn, seized}, nil
	})
}

// ProcessPriceUpdate feeds an oracle observation into the price cache
// and, when accepted, appends it to the event log.
func (e *Engine) ProcessPriceUpdate(rec *event.PriceUpdated) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	eventType := rec.EventType().String()
	key := rec.IdempotencyKey()
	if e.idempotency.IsDuplicate(eventType, key) {
		return nil
	}

	if !e.feeds.Update(rec.FeedID, rec.Price, rec.Sequence, rec.UpdatedAt) {
		// Stale sequence: not an error, just nothing to record.
		return nil
	}

	e.emit(pendingOutput{record: rec, batch: nil}, rec.UpdatedAt)
	e.idempotency.MarkProcessed(eventType, key)

	if e.metrics != nil {
		e.metrics.PriceUpdatesApplied.Inc()
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	return nil
}

// ============================================================================
// Operation pipeline
// ============================================================================

// runOp wraps one state-changing operation: idempotency up front,
// emission and bookkeeping at the end, rejection metrics on failure.
func (e *Engine) runOp(op string, fn func() ([]pendingOutput, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()

	outputs, err := fn()
	if err != nil {
		// Any batches generated by a rejected operation were unwound,
		// pull the generator back to the engine sequence.
		e.journalGen.SetSequence(e.sequence)
		if e.metrics != nil {
			e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
		}
		e.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
		return err
	}

	ts := e.now()
	for _, out := range outputs {
		e.emit(out, ts)
		e.idempotency.MarkProcessed(out.record.EventType().String(), out.record.IdempotencyKey())
	}

	if err := e.validator.ValidateGlobalBalance(); err != nil {
		panic(fmt.Sprintf("FATAL: ledger not zero-sum after %s: %v", op, err))
	}

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(e.now().Sub(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	return nil
}

// checkDuplicate rejects requests whose idempotency key was already
// processed (two-tier lookup).
func (e *Engine) checkDuplicate(rec event.Record) error {
	if e.idempotency.IsDuplicate(rec.EventType().String(), rec.IdempotencyKey()) {
		return ErrDuplicateRequest
	}
	return nil
}

// emit seals one event into the hash chain and fans it out. Persistence
// gets a blocking send (backpressure, no event lost); projections get a
// non-blocking send and rebuild from the event log if they fall behind.
func (e *Engine) emit(out pendingOutput, ts time.Time) {
	payload, err := json.Marshal(out.record)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal %s: %v", out.record.EventType(), err))
	}

	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, e.computeStateDigest(out.batch))

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: out.record.IdempotencyKey(),
		EventType:      out.record.EventType(),
		Asset:          out.record.AssetRef(),
		Timestamp:      ts,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	e.sequence++
	// Batchless events advance the engine but not the generator, keep
	// the two in lockstep so journal sequences match envelope sequences.
	e.journalGen.SetSequence(e.sequence)

	output := EngineOutput{Envelope: envelope, Batch: out.batch}

	e.persistChan <- output

	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDropped.Inc()
		}
	}
}

// ============================================================================
// Primitives: one journal batch + one external token call, undoable
// ============================================================================

func (e *Engine) applyDeposit(requestID string, userID uuid.UUID, asset string, amount *big.Int) (pendingOutput, error) {
	rec := &event.CollateralDeposited{RequestID: requestID, UserID: userID, Asset: asset, Amount: amount}
	if err := e.checkDuplicate(rec); err != nil {
		return pendingOutput{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return pendingOutput{}, ErrZeroAmount
	}
	if !e.cfg.Supports(asset) {
		return pendingOutput{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	assetID, _ := ledger.GetAssetID(asset)
	batch := e.journalGen.Deposit(userID, assetID, amount, rec.IdempotencyKey(), e.now().UnixMicro())
	if err := e.applyBatch(batch); err != nil {
		return pendingOutput{}, err
	}

	if !e.collateral[asset].TransferFrom(userID, e.custodyID, amount) {
		e.tracker.UnapplyBatch(batch)
		return pendingOutput{}, fmt.Errorf("%w: deposit %s", ErrTransferFailed, asset)
	}

	return pendingOutput{
		record: rec,
		batch:  batch,
		undo: func() {
			if !e.collateral[asset].TransferFrom(e.custodyID, userID, amount) {
				panic(fmt.Sprintf("FATAL: custody cannot return %s deposit", asset))
			}
			e.tracker.UnapplyBatch(batch)
		},
	}, nil
}

func (e *Engine) applyRedeem(requestID string, userID uuid.UUID, asset string, amount *big.Int) (pendingOutput, error) {
	rec := &event.CollateralRedeemed{RequestID: requestID, UserID: userID, Asset: asset, Amount: amount}
	if err := e.checkDuplicate(rec); err != nil {
		return pendingOutput{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return pendingOutput{}, ErrZeroAmount
	}
	if !e.cfg.Supports(asset) {
		return pendingOutput{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	assetID, _ := ledger.GetAssetID(asset)
	if err := e.tracker.ValidateSufficientCollateral(userID, assetID, amount); err != nil {
		return pendingOutput{}, fmt.Errorf("%w: %v", ErrInsufficientCollateral, err)
	}

	batch := e.journalGen.Withdrawal(userID, assetID, amount, rec.IdempotencyKey(), e.now().UnixMicro())
	if err := e.applyBatch(batch); err != nil {
		return pendingOutput{}, err
	}

	if !e.collateral[asset].TransferFrom(e.custodyID, userID, amount) {
		e.tracker.UnapplyBatch(batch)
		return pendingOutput{}, fmt.Errorf("%w: redeem %s", ErrTransferFailed, asset)
	}

	return pendingOutput{
		record: rec,
		batch:  batch,
		undo: func() {
			if !e.collateral[asset].TransferFrom(userID, e.custodyID, amount) {
				panic(fmt.Sprintf("FATAL: cannot reclaim %s after failed redeem", asset))
			}
			e.tracker.UnapplyBatch(batch)
		},
	}, nil
}

func (e *Engine) applyMint(requestID string, userID uuid.UUID, amount *big.Int) (pendingOutput, error) {
	rec := &event.DebtMinted{RequestID: requestID, UserID: userID, Amount: amount}
	if err := e.checkDuplicate(rec); err != nil {
		return pendingOutput{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return pendingOutput{}, ErrZeroAmount
	}

	batch := e.journalGen.DebtMint(userID, e.liabilityID, amount, rec.IdempotencyKey(), e.now().UnixMicro())
	if err := e.applyBatch(batch); err != nil {
		return pendingOutput{}, err
	}

	// Health check before touching the token: the debt is already on
	// the books, so an undercollateralized mint fails here.
	if err := e.requireHealthy(userID); err != nil {
		e.tracker.UnapplyBatch(batch)
		return pendingOutput{}, err
	}

	if !e.stable.Mint(userID, amount) {
		e.tracker.UnapplyBatch(batch)
		return pendingOutput{}, ErrMintFailed
	}

	return pendingOutput{
		record: rec,
		batch:  batch,
		undo: func() {
			if err := e.stable.Burn(userID, amount); err != nil {
				panic(fmt.Sprintf("FATAL: cannot burn back failed mint: %v", err))
			}
			e.tracker.UnapplyBatch(batch)
		},
	}, nil
}

// applyBurn retires onBehalfOf's debt using tokens pulled from payer.
// During liquidation the two differ: the target's debt shrinks while
// the liquidator's tokens burn.
func (e *Engine) applyBurn(requestID string, onBehalfOf, payer uuid.UUID, amount *big.Int) (pendingOutput, error) {
	rec := &event.DebtBurned{RequestID: requestID, UserID: onBehalfOf, Payer: payer, Amount: amount}
	if err := e.checkDuplicate(rec); err != nil {
		return pendingOutput{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return pendingOutput{}, ErrZeroAmount
	}
	if debt := e.tracker.GetDebtBalance(onBehalfOf, e.liabilityID); amount.Cmp(debt) > 0 {
		return pendingOutput{}, fmt.Errorf("%w: debt=%s, burn=%s", ErrBurnExceedsDebt, debt, amount)
	}

	batch := e.journalGen.DebtBurn(onBehalfOf, e.liabilityID, amount, rec.IdempotencyKey(), e.now().UnixMicro())
	if err := e.applyBatch(batch); err != nil {
		return pendingOutput{}, err
	}

	if err := e.stable.Burn(payer, amount); err != nil {
		e.tracker.UnapplyBatch(batch)
		return pendingOutput{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	return pendingOutput{
		record: rec,
		batch:  batch,
		undo: func() {
			if !e.stable.Mint(payer, amount) {
				panic("FATAL: cannot re-mint after failed burn")
			}
			e.tracker.UnapplyBatch(batch)
		},
	}, nil
}

// applySeize moves collateral from the target to the liquidator with no
// intermediate health check; Liquidate judges the end state.
func (e *Engine) applySeize(requestID string, targetID, liquidatorID uuid.UUID, asset string, amount *big.Int) (pendingOutput, error) {
	assetID, _ := ledger.GetAssetID(asset)

	batch := e.journalGen.Seize(targetID, assetID, amount, "liquidate:"+requestID, e.now().UnixMicro())
	if err := e.applyBatch(batch); err != nil {
		return pendingOutput{}, err
	}

	if !e.collateral[asset].TransferFrom(e.custodyID, liquidatorID, amount) {
		e.tracker.UnapplyBatch(batch)
		return pendingOutput{}, fmt.Errorf("%w: seize %s", ErrTransferFailed, asset)
	}

	return pendingOutput{
		// Placeholder; Liquidate swaps in the full record once the end
		// factor is known.
		record: nil,
		batch:  batch,
		undo: func() {
			if !e.collateral[asset].TransferFrom(liquidatorID, e.custodyID, amount) {
				panic(fmt.Sprintf("FATAL: cannot reclaim seized %s", asset))
			}
			e.tracker.UnapplyBatch(batch)
		},
	}, nil
}

func (e *Engine) applyBatch(batch *ledger.Batch) error {
	if err := e.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	return e.tracker.ApplyBatch(batch)
}

// ============================================================================
// Health
// ============================================================================

// healthFactorOf computes the user's current ratio. Debt-free users get
// the max sentinel without touching the oracle, so stale feeds never
// block a clean exit.
func (e *Engine) healthFactorOf(userID uuid.UUID) (*big.Int, error) {
	debt := e.tracker.GetDebtBalance(userID, e.liabilityID)
	if debt.Sign() == 0 {
		return fpmath.HealthFactor(debt, nil), nil
	}

	value, err := e.collateralValueOf(userID)
	if err != nil {
		return nil, err
	}
	return fpmath.HealthFactor(debt, value), nil
}

func (e *Engine) requireHealthy(userID uuid.UUID) error {
	factor, err := e.healthFactorOf(userID)
	if err != nil {
		return err
	}
	if !fpmath.IsHealthy(factor) {
		return &HealthFactorBrokenError{Factor: factor}
	}
	return nil
}

func (e *Engine) collateralValueOf(userID uuid.UUID) (*big.Int, error) {
	total := new(big.Int)
	for _, asset := range e.cfg.Assets() {
		assetID, _ := ledger.GetAssetID(asset)
		held := e.tracker.GetCollateralBalance(userID, assetID)
		if held.Sign() == 0 {
			continue
		}
		value, err := e.valuer.ValueOf(asset, held)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// ============================================================================
// Reads
// ============================================================================

// PositionOf returns the user's live position view.
func (e *Engine) PositionOf(userID uuid.UUID) *state.Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := &state.Position{
		UserID:     userID,
		Collateral: make(map[string]*big.Int),
		Debt:       e.tracker.GetDebtBalance(userID, e.liabilityID),
	}
	for _, asset := range e.cfg.Assets() {
		assetID, _ := ledger.GetAssetID(asset)
		pos.Collateral[asset] = e.tracker.GetCollateralBalance(userID, assetID)
	}
	return pos
}

// HealthFactorOf returns the user's current health factor.
func (e *Engine) HealthFactorOf(userID uuid.UUID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthFactorOf(userID)
}

// CollateralValueOf returns the unit-of-account value of everything the
// user has deposited.
func (e *Engine) CollateralValueOf(userID uuid.UUID) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collateralValueOf(userID)
}

// DepositedBalance returns the user's deposited quantity of one asset.
func (e *Engine) DepositedBalance(userID uuid.UUID, asset string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	assetID, ok := ledger.GetAssetID(asset)
	if !ok || !e.cfg.Supports(asset) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return e.tracker.GetCollateralBalance(userID, assetID), nil
}

// Sequence returns the next event sequence the engine will assign.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current tip of the state hash chain.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// CheckInvariants runs the global zero-sum check on demand.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.validator.ValidateGlobalBalance()
}

// ============================================================================
// State digest
// ============================================================================

// computeStateDigest builds the canonical bytes hashed into the chain:
// the batch's affected accounts in path order, each with its post-batch
// balance. Batchless events contribute an empty digest; the chain still
// advances through prev hash and sequence.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	if batch == nil || len(batch.Journals) == 0 {
		return nil
	}

	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)

		bal := e.tracker.GetBalance(key).Text(10)
		digest = append(digest, byte(len(bal)))
		digest = append(digest, bal...)
	}
	return digest
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, ErrZeroAmount):
		return "zero_amount"
	case errors.Is(err, ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorOk):
		return "position_healthy"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "not_improved"
	case errors.Is(err, ErrBurnExceedsDebt):
		return "burn_exceeds_debt"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, pricing.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, pricing.ErrUnknownFeed):
		return "unknown_feed"
	case errors.Is(err, pricing.ErrInvalidPrice):
		return "invalid_price"
	default:
		return "other"
	}
}
