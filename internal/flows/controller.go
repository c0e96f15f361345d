package flows

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Proton-105/himera-lend/internal/aave"
	"github.com/Proton-105/himera-lend/internal/chain"
	"github.com/Proton-105/himera-lend/internal/domain"
	apperrors "github.com/Proton-105/himera-lend/internal/errors"
	"github.com/Proton-105/himera-lend/internal/txflow"
	"github.com/Proton-105/himera-lend/internal/wizard"
	"github.com/Proton-105/himera-lend/pkg/logger"
)

// CancelledMessage is the status shown after the user declines in the wallet.
const CancelledMessage = "Transaction cancelled"

var transitionRecorder = func(kind, step string) {}

// RegisterTransitionRecorder allows external packages to observe step changes.
func RegisterTransitionRecorder(recorder func(kind, step string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}

// Actions are the lending operations a flow can end in. *aave.Service
// satisfies it.
type Actions interface {
	Supply(ctx context.Context, req aave.Request) (*domain.TxResult, error)
	Withdraw(ctx context.Context, req aave.Request) (*domain.TxResult, error)
	Borrow(ctx context.Context, req aave.Request) (*domain.TxResult, error)
	Repay(ctx context.Context, req aave.Request) (*domain.TxResult, error)
	RepayWithATokens(ctx context.Context, req aave.Request) (*domain.TxResult, error)
}

// NetworkChecker rejects networks without a deployment.
type NetworkChecker interface {
	Lookup(network domain.Network) (chain.NetworkInfo, error)
}

// Options tunes sessions created by the controller.
type Options struct {
	ActionTimeout time.Duration
	ResetDelay    time.Duration
	EventBuffer   int
}

// Controller creates sessions and drives them on behalf of API clients.
type Controller struct {
	registry *Registry
	actions  Actions
	signers  chain.SignerProvider
	networks NetworkChecker
	errors   *apperrors.Handler
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

func NewController(registry *Registry, actions Actions, signers chain.SignerProvider, networks NetworkChecker, handler *apperrors.Handler, opts Options, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if handler == nil {
		handler = apperrors.NewHandler(log, false)
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 5 * time.Minute
	}

	return &Controller{
		registry: registry,
		actions:  actions,
		signers:  signers,
		networks: networks,
		errors:   handler,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Registry returns the session store.
func (c *Controller) Registry() *Registry {
	return c.registry
}

// Create opens a new flow of kind on network. An empty user defaults to the
// connected wallet's address.
func (c *Controller) Create(ctx context.Context, rawKind, rawNetwork, user string) (*Session, error) {
	kind, ok := ParseKind(rawKind)
	if !ok {
		return nil, apperrors.NewValidationError("Invalid flow kind")
	}

	network := domain.ParseNetwork(rawNetwork)
	if _, err := c.networks.Lookup(network); err != nil {
		return nil, err
	}

	user = strings.TrimSpace(user)
	if user == "" && c.signers != nil {
		if signer, err := c.signers.Signer(ctx); err == nil {
			user = signer.Address().Hex()
		}
	}
	if user != "" && !common.IsHexAddress(user) {
		return nil, apperrors.NewValidationError("Invalid user address")
	}
	if user != "" {
		user = common.HexToAddress(user).Hex()
	}

	session := &Session{
		ID:         uuid.NewString(),
		Kind:       kind,
		CreatedAt:  c.now().UTC(),
		lastActive: c.now(),
		events:     txflow.NewBroadcaster(c.opts.EventBuffer),
	}

	opts := []wizard.Option[Data]{
		wizard.WithInitialData(NewData(kind, network, user)),
		wizard.OnStepChange(func(index int, _ Data) {
			transitionRecorder(string(kind), stepsFor(kind)[index].ID)
		}),
		wizard.OnComplete(func(Data) {
			session.wizard.Close(wizard.CloseExplicit)
		}),
		wizard.AsModal[Data](true),
	}
	if c.opts.ResetDelay > 0 {
		opts = append(opts, wizard.ResetDelay[Data](c.opts.ResetDelay))
	}
	session.wizard = wizard.New(stepsFor(kind), opts...)
	session.wizard.Open()

	c.registry.add(session)
	c.log.Info("flow session created",
		slog.String("session_id", session.ID),
		slog.String("kind", string(kind)),
		slog.String("network", network.String()),
		slog.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
	)

	return session, nil
}

// Get returns the session with id.
func (c *Controller) Get(id string) (*Session, error) {
	session, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}
	session.touch(c.now())
	return session, nil
}

// Update applies patch to the session data.
func (c *Controller) Update(id string, patch Patch) (*Session, error) {
	session, err := c.mutable(id)
	if err != nil {
		return nil, err
	}

	if patch.RepaySource != nil && !RepaySource(*patch.RepaySource).Valid() {
		return nil, apperrors.NewValidationError("Invalid repay source")
	}

	session.wizard.Update(func(d *Data) {
		if patch.Asset != nil {
			asset := *patch.Asset
			d.Asset = &asset
		}
		if patch.Amount != nil {
			d.Amount = strings.TrimSpace(*patch.Amount)
		}
		if patch.InterestRateMode != nil {
			mode := domain.InterestRateMode(*patch.InterestRateMode)
			switch {
			case d.Borrow != nil:
				d.Borrow = &BorrowOptions{InterestRateMode: mode}
			case d.Repay != nil:
				d.Repay = &RepayOptions{InterestRateMode: mode, Source: d.Repay.Source}
			}
		}
		if patch.RepaySource != nil && d.Repay != nil {
			d.Repay = &RepayOptions{InterestRateMode: d.Repay.InterestRateMode, Source: RepaySource(*patch.RepaySource)}
		}
	})

	return session, nil
}

// Next advances the session, or completes and closes it on the confirm step.
func (c *Controller) Next(id string) (*Session, bool, error) {
	session, err := c.mutable(id)
	if err != nil {
		return nil, false, err
	}

	completed, err := session.wizard.Next()
	if err != nil {
		return nil, false, err
	}
	return session, completed, nil
}

// Previous steps the session back.
func (c *Controller) Previous(id string) (*Session, error) {
	session, err := c.mutable(id)
	if err != nil {
		return nil, err
	}
	session.wizard.Previous()
	return session, nil
}

// GoTo jumps to step index.
func (c *Controller) GoTo(id string, index int) (*Session, error) {
	session, err := c.mutable(id)
	if err != nil {
		return nil, err
	}
	if err := session.wizard.GoTo(index); err != nil {
		return nil, apperrors.NewValidationError("Invalid step index")
	}
	return session, nil
}

// Open shows the session.
func (c *Controller) Open(id string) (*Session, error) {
	session, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	session.wizard.Open()
	return session, nil
}

// Close hides the session for reason and reports whether it closed.
func (c *Controller) Close(id string, reason wizard.CloseReason) (*Session, bool, error) {
	session, err := c.Get(id)
	if err != nil {
		return nil, false, err
	}
	return session, session.wizard.Close(reason), nil
}

// Submit moves the session to the confirm step and runs its action in the
// background. The returned channel closes when the action has ended.
func (c *Controller) Submit(ctx context.Context, id string) (<-chan struct{}, error) {
	session, err := c.Get(id)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	if session.running {
		session.mu.Unlock()
		return nil, apperrors.NewInProgressError(session.ID)
	}
	session.running = true
	done := make(chan struct{})
	session.done = done
	session.mu.Unlock()

	if err := session.wizard.GoTo(StepConfirm); err != nil {
		c.finishRun(session, done)
		return nil, err
	}
	session.wizard.Update(func(d *Data) {
		d.TxStatus = nil
		d.TxResult = nil
	})

	data := session.wizard.Data()
	req := c.buildRequest(ctx, session, data)

	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.finishRun(session, done)

		actionCtx, cancel := context.WithTimeout(runCtx, c.opts.ActionTimeout)
		defer cancel()

		result, err := c.dispatch(actionCtx, data, req)
		c.settle(actionCtx, session, result, err)
	}()

	return done, nil
}

func (c *Controller) buildRequest(ctx context.Context, session *Session, data Data) aave.Request {
	var signer chain.Signer
	if c.signers != nil {
		provided, err := c.signers.Signer(ctx)
		if err != nil {
			c.log.Warn("no signer for flow", slog.String("session_id", session.ID), slog.String("error", err.Error()))
		} else {
			signer = provided
		}
	}

	req := aave.Request{
		Network:          data.Network,
		Signer:           signer,
		User:             data.User,
		Amount:           data.Amount,
		InterestRateMode: data.InterestRateMode(),
	}
	if data.Asset != nil {
		req.Asset = data.Asset.Underlying.Address
		req.Symbol = data.Asset.Underlying.Symbol
	}

	status := txflow.SinkFunc(func(event txflow.Event) {
		session.wizard.Update(func(d *Data) { d.TxStatus = statusFromEvent(event) })
		session.touch(c.now())
	})
	req.Sink = txflow.Multi(status, session.events)

	return req
}

func (c *Controller) dispatch(ctx context.Context, data Data, req aave.Request) (*domain.TxResult, error) {
	switch data.Kind {
	case KindSupply:
		return c.actions.Supply(ctx, req)
	case KindWithdraw:
		return c.actions.Withdraw(ctx, req)
	case KindBorrow:
		return c.actions.Borrow(ctx, req)
	case KindRepay:
		if data.Repay != nil && data.Repay.Source == RepayWithCollateral {
			return c.actions.RepayWithATokens(ctx, req)
		}
		return c.actions.Repay(ctx, req)
	default:
		return nil, apperrors.NewValidationError("Invalid flow kind")
	}
}

// settle stores the outcome. A declined signature steps back to the amount
// step with a cancelled status; other failures stay on confirm.
func (c *Controller) settle(ctx context.Context, session *Session, result *domain.TxResult, err error) {
	if err == nil {
		session.wizard.Update(func(d *Data) { d.TxResult = result })
		return
	}

	message, _ := c.errors.Handle(ctx, err)

	if apperrors.IsUserRejected(err) {
		session.wizard.Update(func(d *Data) {
			d.TxStatus = cancelledStatus(d.TxStatus)
		})
		session.wizard.Previous()
		return
	}

	session.wizard.Update(func(d *Data) {
		status := &TxStatus{State: domain.TxStateError, Info: message}
		if d.TxStatus != nil {
			status.Action = d.TxStatus.Action
			status.Hash = d.TxStatus.Hash
		}
		d.TxStatus = status
	})
}

func cancelledStatus(last *TxStatus) *TxStatus {
	status := &TxStatus{State: domain.TxStateError, Info: CancelledMessage}
	if last != nil {
		status.Action = last.Action
	}
	return status
}

func (c *Controller) finishRun(session *Session, done chan struct{}) {
	session.mu.Lock()
	session.running = false
	session.lastActive = c.now()
	session.mu.Unlock()
	close(done)
}

// mutable returns a session that is not in the middle of a submission.
func (c *Controller) mutable(id string) (*Session, error) {
	session, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if session.Submitting() {
		return nil, apperrors.NewInProgressError(session.ID)
	}
	return session, nil
}
