package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"loyalty-ledger/internal/cache"
	"loyalty-ledger/internal/events"
	"loyalty-ledger/internal/features"
	"loyalty-ledger/internal/ledger"
	"loyalty-ledger/internal/metrics"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/report"
	"loyalty-ledger/internal/storage"
	"loyalty-ledger/internal/tracing"
	"loyalty-ledger/internal/validation"
)

// ErrPersistence wraps any failure to save the ledger. The in-memory state is
// left as it was before the operation.
var ErrPersistence = errors.New("failed to persist ledger")

// errUnchanged lets a mutation report that nothing needs saving.
var errUnchanged = errors.New("unchanged")

const defaultCacheTTL = 5 * time.Minute

// Options carries the optional collaborators of a Service.
type Options struct {
	Events   *events.Manager
	Cache    cache.Cache
	CacheTTL time.Duration
	Features *features.Manager
	Metrics  *metrics.LedgerMetrics
	Tracer   *tracing.Tracer
	Logger   *slog.Logger
	// Clock supplies "now"; today's date is derived from it.
	Clock func() time.Time
}

// Service provides the ledger operations. It is the single writer: every
// mutation runs under one lock on a clone of the state, is persisted, and only
// then becomes visible.
type Service struct {
	store storage.Store

	mu    sync.Mutex
	state *ledger.State
	// generation increments every time a new state is published.
	generation uint64
	// dirty is set when a save may have reached the store only in part or
	// the store holds newer data than s.state.
	dirty bool

	events   *events.Manager
	cache    cache.Cache
	cacheTTL time.Duration
	features *features.Manager
	metrics  *metrics.LedgerMetrics
	tracer   *tracing.Tracer
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService creates a new service instance. State is loaded lazily on first
// use or eagerly with Load.
func NewService(store storage.Store, opts Options) *Service {
	s := &Service{
		store:    store,
		events:   opts.Events,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		features: opts.Features,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
	if s.events == nil {
		s.events = events.NewManager(false, nil)
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	if s.tracer == nil {
		s.tracer = tracing.Noop()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

func (s *Service) today() models.Date {
	return models.DateOf(s.clock())
}

// Load reads the whole ledger from the store, replacing the in-memory state.
func (s *Service) Load(ctx context.Context) error {
	ctx, span := s.tracer.StartSpan(ctx, "ledger.load")
	s.mu.Lock()
	err := s.reloadLocked(ctx)
	s.mu.Unlock()
	tracing.End(span, err)
	return err
}

func (s *Service) reloadLocked(ctx context.Context) error {
	state, err := storage.LoadState(ctx, s.store)
	if err != nil {
		return err
	}
	if err := state.CheckConsistency(); err != nil {
		s.logger.Warn("loaded ledger is inconsistent", "error", err)
	}
	s.state = state
	s.generation++
	s.dirty = false
	s.invalidateReports(ctx)
	s.logger.Info("ledger loaded",
		"customers", len(state.Customers),
		"transactions", len(state.Transactions),
		"promotions", state.Promotions.Len(),
	)
	return nil
}

func (s *Service) ensureLoadedLocked(ctx context.Context) error {
	if s.state != nil && !s.dirty {
		return nil
	}
	return s.reloadLocked(ctx)
}

// snapshot returns the current state and its generation. States are never
// mutated after they are published, so the pointer is safe to read without
// the lock.
func (s *Service) snapshot(ctx context.Context) (*ledger.State, error) {
	st, _, err := s.versionedSnapshot(ctx)
	return st, err
}

func (s *Service) versionedSnapshot(ctx context.Context) (*ledger.State, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, 0, err
	}
	return s.state, s.generation, nil
}

// mutate applies fn to a clone of the state, saves the listed tables and
// swaps the clone in.
func (s *Service) mutate(ctx context.Context, op, message string, tables []storage.TableID, fn func(st *ledger.State) error) (err error) {
	start := time.Now()
	ctx, span := s.tracer.StartSpan(ctx, "ledger."+op)
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrPersistence):
			outcome = "error"
		case err != nil:
			outcome = "rejected"
		}
		s.metrics.Observe(op, outcome, time.Since(start))
		tracing.End(span, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	next := s.state.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}

	if s.features.IsEnabled(features.FeatureConsistencyCheck) {
		if err := next.CheckConsistency(); err != nil {
			s.logger.Error("mutation would break ledger consistency", "operation", op, "error", err)
			return err
		}
	}

	if err := s.store.SaveTables(ctx, message, storage.StateTables(next, s.today(), tables...)...); err != nil {
		s.metrics.RecordPersistFailure(op)
		if errors.Is(err, storage.ErrPartialWrite) || errors.Is(err, storage.ErrConflict) {
			s.dirty = true
		}
		s.logger.Error("failed to save ledger", "operation", op, "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.state = next
	s.generation++
	s.invalidateReports(ctx)
	return nil
}

var (
	customerTables = []storage.TableID{storage.Customers}
	ledgerTables   = []storage.TableID{storage.Customers, storage.Transactions}
	promoTables    = []storage.TableID{storage.PromotionalWindows}
)

// RegisterCustomer adds a customer. An unknown referrer is dropped and
// reported in the result's warnings.
func (s *Service) RegisterCustomer(ctx context.Context, req models.RegisterCustomerRequest) (ledger.RegisterResult, error) {
	if err := validation.ValidateRegistration(&req); err != nil {
		return ledger.RegisterResult{}, err
	}

	var res ledger.RegisterResult
	err := s.mutate(ctx, "register_customer", fmt.Sprintf("Register customer %s", req.Name), customerTables,
		func(st *ledger.State) error {
			var err error
			res, err = st.RegisterCustomer(req.Name, req.Nickname, req.Phone, req.ReferredBy)
			return err
		})
	if err != nil {
		return ledger.RegisterResult{}, err
	}

	s.events.PublishCustomerRegistered(ctx, res.Customer)
	return res, nil
}

// RecordSale records a sale. A zero date means today.
func (s *Service) RecordSale(ctx context.Context, req models.RecordSaleRequest) (ledger.SaleResult, error) {
	if err := validation.ValidateSale(&req); err != nil {
		return ledger.SaleResult{}, err
	}
	today := s.today()
	if req.Date.IsZero() {
		req.Date = today
	}

	var res ledger.SaleResult
	err := s.mutate(ctx, "record_sale",
		fmt.Sprintf("Sale of %s for %s", req.Amount.StringFixed(2), req.CustomerName), ledgerTables,
		func(st *ledger.State) error {
			var err error
			res, err = st.RecordSale(req.CustomerName, req.Amount, req.Date, req.PromoSelected, today)
			return err
		})
	if err != nil {
		return ledger.SaleResult{}, err
	}

	s.metrics.RecordSale(res.Sale.Amount)
	s.metrics.RecordCashback(string(models.KindSale), res.Sale.CashbackDelta)
	if res.ReferralBonus != nil {
		s.metrics.RecordCashback(string(models.KindReferralBonus), res.ReferralBonus.CashbackDelta)
	}
	s.events.PublishSaleRecorded(ctx, events.SaleRecordedData{
		Customer:      res.Customer,
		Sale:          res.Sale,
		EffectiveRate: res.EffectiveRate,
		PurchaseCount: res.PurchaseCount,
		Referrer:      res.Referrer,
		ReferralBonus: res.ReferralBonus,
	})
	return res, nil
}

// RedeemCashback debits cashback against a reference sale. The balance check
// uses the balance read inside the same critical section as the debit.
func (s *Service) RedeemCashback(ctx context.Context, req models.RedeemCashbackRequest) (ledger.RedemptionResult, error) {
	if err := validation.ValidateRedemption(&req); err != nil {
		return ledger.RedemptionResult{}, err
	}
	if req.Date.IsZero() {
		req.Date = s.today()
	}

	var res ledger.RedemptionResult
	err := s.mutate(ctx, "redeem_cashback",
		fmt.Sprintf("Redeem %s for %s", req.Amount.StringFixed(2), req.CustomerName), ledgerTables,
		func(st *ledger.State) error {
			c, ok := st.Customer(req.CustomerName)
			if !ok {
				return fmt.Errorf("%w: %s", ledger.ErrCustomerNotFound, req.CustomerName)
			}
			var err error
			res, err = st.RedeemCashback(req.CustomerName, req.Amount, req.ReferenceSaleAmount, req.Date, c.AvailableCashback)
			return err
		})
	if err != nil {
		return ledger.RedemptionResult{}, err
	}

	s.metrics.RecordCashback(string(models.KindRedemption), res.Redemption.CashbackDelta)
	s.events.PublishCashbackRedeemed(ctx, res.Customer, res.Redemption)
	return res, nil
}

// EditCustomer updates a customer's details; a rename cascades to history
// and referrals.
func (s *Service) EditCustomer(ctx context.Context, originalName string, req models.EditCustomerRequest) (models.Customer, error) {
	if err := validation.ValidateEdit(&req); err != nil {
		return models.Customer{}, err
	}

	var out models.Customer
	err := s.mutate(ctx, "edit_customer", fmt.Sprintf("Edit customer %s", originalName), ledgerTables,
		func(st *ledger.State) error {
			var err error
			out, err = st.EditCustomer(originalName, req.Name, req.Nickname, req.Phone)
			return err
		})
	return out, err
}

// DeleteCustomer removes a customer and their transactions and returns how
// many transactions were removed.
func (s *Service) DeleteCustomer(ctx context.Context, name string) (int, error) {
	var removed int
	err := s.mutate(ctx, "delete_customer", fmt.Sprintf("Delete customer %s", name), ledgerTables,
		func(st *ledger.State) error {
			var err error
			removed, err = st.DeleteCustomer(name)
			return err
		})
	if err != nil {
		return 0, err
	}

	s.events.PublishCustomerDeleted(ctx, name, removed)
	return removed, nil
}

// AddPromotion registers a promotional window.
func (s *Service) AddPromotion(ctx context.Context, req models.AddPromotionRequest) (models.PromotionalWindow, error) {
	if err := validation.ValidatePromotion(&req); err != nil {
		return models.PromotionalWindow{}, err
	}

	var w models.PromotionalWindow
	err := s.mutate(ctx, "add_promotion", fmt.Sprintf("Add promotion %s", req.ProductName), promoTables,
		func(st *ledger.State) error {
			var err error
			w, err = st.AddPromotionalProduct(req.ProductName, req.StartDate, req.EndDate, s.today())
			return err
		})
	return w, err
}

// RemovePromotion removes a promotional window. Removing an unknown product
// is a no-op and reports false.
func (s *Service) RemovePromotion(ctx context.Context, productName string) (bool, error) {
	removed := false
	err := s.mutate(ctx, "remove_promotion", fmt.Sprintf("Remove promotion %s", productName), promoTables,
		func(st *ledger.State) error {
			removed = st.RemovePromotionalProduct(productName)
			if !removed {
				return errUnchanged
			}
			return nil
		})
	return removed, err
}

// ListCustomers returns every customer in registration order.
func (s *Service) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]models.Customer{}, st.Customers...), nil
}

// GetCustomer returns a customer with tier progress.
func (s *Service) GetCustomer(ctx context.Context, name string) (models.CustomerDetailResponse, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return models.CustomerDetailResponse{}, err
	}
	c, ok := st.Customer(name)
	if !ok {
		return models.CustomerDetailResponse{}, fmt.Errorf("%w: %s", ledger.ErrCustomerNotFound, name)
	}
	return models.CustomerDetailResponse{Customer: c, Progress: report.TierProgress(c)}, nil
}

// Promotions lists the promotional windows with is_active computed for today.
func (s *Service) Promotions(ctx context.Context) ([]models.PromotionalWindow, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return st.Promotions.Windows(s.today()), nil
}

// Summary returns the dashboard figures for today.
func (s *Service) Summary(ctx context.Context) (models.Summary, error) {
	today := s.today()
	return cachedReport(ctx, s, cache.ReportKey("summary", today.String()), func(st *ledger.State) models.Summary {
		return report.Summary(st, today)
	})
}

// CashbackRanking ranks customers by available cashback.
func (s *Service) CashbackRanking(ctx context.Context) ([]models.RankingEntry, error) {
	return cachedReport(ctx, s, cache.ReportKey("rankings", "cashback"), func(st *ledger.State) []models.RankingEntry {
		return report.CashbackRanking(st.Customers)
	})
}

// PurchaseRanking ranks customers by total sales volume.
func (s *Service) PurchaseRanking(ctx context.Context) ([]models.RankingEntry, error) {
	return cachedReport(ctx, s, cache.ReportKey("rankings", "purchases"), func(st *ledger.State) []models.RankingEntry {
		return report.PurchaseRanking(st.Transactions)
	})
}

// History returns the transactions matching f.
func (s *Service) History(ctx context.Context, f report.HistoryFilter) ([]models.Transaction, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return report.History(st.Transactions, f), nil
}

func (s *Service) reportCacheEnabled() bool {
	return s.cache != nil && s.features.IsEnabled(features.FeatureReportCache)
}

// cachedReport serves a report from the cache, computing and storing it on a
// miss. Keys carry the state generation so an entry computed from an older
// state is never served. Cache failures only cost a recomputation.
func cachedReport[T any](ctx context.Context, s *Service, name string, compute func(st *ledger.State) T) (T, error) {
	ctx, span := s.tracer.StartSpan(ctx, "ledger.report", attribute.String("report.name", name))
	defer span.End()

	var out T
	st, gen, err := s.versionedSnapshot(ctx)
	if err != nil {
		return out, err
	}
	if !s.reportCacheEnabled() {
		return compute(st), nil
	}

	key := name + ":" + strconv.FormatUint(gen, 10)
	if err := cache.GetJSON(ctx, s.cache, key, &out); err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return out, nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Debug("report cache read failed", "key", key, "error", err)
	}

	out = compute(st)
	if err := cache.SetJSON(ctx, s.cache, key, out, s.cacheTTL); err != nil {
		s.logger.Debug("report cache write failed", "key", key, "error", err)
	}
	return out, nil
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn("failed to invalidate report cache", "error", err)
	}
}
