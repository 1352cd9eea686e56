package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/thatsimonsguy/bms-acquisition/internal/chain"
	"github.com/thatsimonsguy/bms-acquisition/internal/model"
	"github.com/thatsimonsguy/bms-acquisition/internal/registers"
	"github.com/thatsimonsguy/bms-acquisition/internal/thermistor"
)

var ErrNotReady = errors.New("conversion not ready")

// Publisher receives every completed cycle. The cycle is owned by the callee.
type Publisher interface {
	Publish(ctx context.Context, cycle model.Cycle) error
}

// StatusSignal is toggled once per published cycle.
type StatusSignal interface {
	Toggle() error
}

// FaultNotifier hears about transitions into and out of the fault state.
type FaultNotifier interface {
	FaultChanged(fault bool, cause error)
}

type Options struct {
	Dims               model.Dims
	Mode               chain.ADCMode
	DischargePermitted bool
	Period             time.Duration // minimum time between cycle starts; 0 disables
	PollInterval       time.Duration
	PollRetries        int // polls after the first before declaring a fault
}

type Controller struct {
	client   chain.Client
	cal      thermistor.Calibration
	opts     Options
	pub      Publisher
	status   StatusSignal
	notifier FaultNotifier
	limiter  *rate.Limiter

	seq      uint64
	fault    atomic.Bool
	voltages model.VoltageMatrix
	raw      model.RawAuxMatrix
	temps    model.TemperatureMatrix
}

func New(client chain.Client, cal thermistor.Calibration, opts Options, pub Publisher, status StatusSignal) *Controller {
	limit := rate.Inf
	if opts.Period > 0 {
		limit = rate.Every(opts.Period)
	}
	if opts.PollRetries < 0 {
		opts.PollRetries = 0
	}

	return &Controller{
		client:   client,
		cal:      cal,
		opts:     opts,
		pub:      pub,
		status:   status,
		limiter:  rate.NewLimiter(limit, 1),
		voltages: model.NewVoltageMatrix(opts.Dims.Devices, opts.Dims.Cells),
		raw:      model.NewRawAuxMatrix(opts.Dims.Devices, opts.Dims.Aux),
		temps:    model.NewTemperatureMatrix(opts.Dims.Devices, opts.Dims.Aux),
	}
}

func (c *Controller) SetFaultNotifier(n FaultNotifier) {
	c.notifier = n
}

// Fault reports whether the last cycle ended in the fault state. Safe to call
// while Run is active.
func (c *Controller) Fault() bool {
	return c.fault.Load()
}

// Configure writes the per-device configuration once, before the first cycle.
func (c *Controller) Configure(ctx context.Context, cfgs []chain.DeviceConfig) error {
	_ = c.client.WakeUp(ctx)
	if err := c.client.WriteConfiguration(ctx, cfgs); err != nil {
		return fmt.Errorf("write chain configuration: %w", err)
	}
	log.Info().Int("devices", len(cfgs)).Msg("Chain configuration written")
	return nil
}

// Run cycles the chain until ctx is done, starting cycles no closer together than
// the configured period.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().
		Int("devices", c.opts.Dims.Devices).
		Int("cells", c.opts.Dims.Cells).
		Int("aux", c.opts.Dims.Aux).
		Dur("period", c.opts.Period).
		Str("adc_mode", c.opts.Mode.String()).
		Msg("Starting acquisition controller")

	// the bucket starts full; spend it so the first cycle is throttled too
	c.limiter.Allow()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.RunCycle(ctx)

		if err := c.limiter.Wait(ctx); err != nil {
			// the next slot lies past the context deadline
			<-ctx.Done()
			return ctx.Err()
		}
	}
}

// RunCycle performs one wake/convert/poll/read/publish pass and returns what it published.
func (c *Controller) RunCycle(ctx context.Context) model.Cycle {
	started := time.Now()
	c.seq++

	var (
		errs  int
		fault error
	)

	c.wake(ctx)
	if err := c.convert(ctx, chain.AllCells); err != nil {
		errs++
		if errors.Is(err, ErrNotReady) {
			fault = err
		}
	} else if v, err := c.client.ReadVoltages(ctx, chain.AllCells); err != nil {
		errs++
		log.Warn().Err(err).Uint64("seq", c.seq).Msg("Failed to read cell voltages, keeping previous values")
	} else {
		c.storeVoltages(v)
	}

	c.wake(ctx)
	if err := c.convert(ctx, chain.AllGPIO); err != nil {
		errs++
		if errors.Is(err, ErrNotReady) && fault == nil {
			fault = err
		}
	} else {
		a, aErr := c.readBank(ctx, chain.RegisterAuxA, 0)
		b, bErr := c.readBank(ctx, chain.RegisterAuxB, 1)
		if aErr != nil {
			errs++
		}
		if bErr != nil {
			errs++
		}
		c.storeRaw(registers.Assemble(a, b))
	}

	for d := range c.raw {
		for ch, code := range c.raw[d] {
			c.temps[d][ch] = c.cal.Convert(code)
		}
	}

	c.setFault(fault)

	cycle := model.Cycle{
		Seq:          c.seq,
		StartedAt:    started,
		Duration:     time.Since(started),
		Fault:        fault != nil,
		Errors:       errs,
		Voltages:     c.voltages.Clone(),
		RawAux:       c.raw.Clone(),
		Temperatures: c.temps.Clone(),
	}

	c.publish(ctx, cycle)
	return cycle
}

func (c *Controller) wake(ctx context.Context) {
	// advisory; a device that is already awake may not acknowledge
	if err := c.client.WakeUp(ctx); err != nil {
		log.Debug().Err(err).Msg("Wake-up not acknowledged")
	}
}

func (c *Controller) convert(ctx context.Context, sel chain.ChannelSelection) error {
	if err := c.client.StartConversion(ctx, c.opts.Mode, sel, c.opts.DischargePermitted); err != nil {
		log.Warn().Err(err).Str("selection", sel.String()).Msg("Failed to start conversion, keeping previous values")
		return fmt.Errorf("start %s conversion: %w", sel, err)
	}
	if err := c.pollReady(ctx); err != nil {
		log.Error().Err(err).Str("selection", sel.String()).Msg("Chain did not finish conversion, skipping read")
		return err
	}
	return nil
}

// pollReady asks for conversion status at most PollRetries+1 times.
func (c *Controller) pollReady(ctx context.Context) error {
	polls := 0
	op := func() error {
		polls++
		ready, err := c.client.ConversionReady(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return ErrNotReady
		}
		return nil
	}

	// WithMaxRetries treats 0 as unlimited
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.opts.PollRetries > 0 {
		policy = backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.PollInterval), uint64(c.opts.PollRetries))
	}
	b := backoff.WithContext(policy, ctx)
	notify := func(err error, next time.Duration) {
		log.Debug().Err(err).Int("poll", polls).Dur("next", next).Msg("Waiting for chain")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNotReady) {
			return fmt.Errorf("%w after %d polls", ErrNotReady, polls)
		}
		return fmt.Errorf("%w after %d polls: %v", ErrNotReady, polls, err)
	}
	return nil
}

// readBank returns bank k for every device; rows the chain did not deliver keep
// their previous values.
func (c *Controller) readBank(ctx context.Context, reg chain.Register, k int) ([][]uint16, error) {
	bank := registers.Bank(c.raw, k)

	rows, err := c.client.ReadRegister(ctx, reg)
	if err != nil {
		log.Warn().Err(err).Str("register", reg.String()).Msg("Failed to read auxiliary bank, keeping previous values")
		return bank, err
	}
	if len(rows) != len(bank) {
		log.Warn().Str("register", reg.String()).Int("devices", len(rows)).Msg("Auxiliary bank has unexpected device count")
	}

	for d := 0; d < len(bank) && d < len(rows); d++ {
		copy(bank[d], rows[d])
	}
	return bank, nil
}

func (c *Controller) storeVoltages(v model.VoltageMatrix) {
	if len(v) != len(c.voltages) {
		log.Warn().Int("devices", len(v)).Msg("Voltage read has unexpected device count")
	}
	for d := 0; d < len(c.voltages) && d < len(v); d++ {
		copy(c.voltages[d], v[d])
	}
}

func (c *Controller) storeRaw(m [][]uint16) {
	for d := 0; d < len(c.raw) && d < len(m); d++ {
		copy(c.raw[d], m[d])
	}
}

func (c *Controller) setFault(cause error) {
	fault := cause != nil
	if c.fault.Swap(fault) == fault {
		return
	}

	if fault {
		log.Error().Err(cause).Uint64("seq", c.seq).Msg("Acquisition entered fault state")
	} else {
		log.Info().Uint64("seq", c.seq).Msg("Acquisition recovered from fault state")
	}
	if c.notifier != nil {
		c.notifier.FaultChanged(fault, cause)
	}
}

func (c *Controller) publish(ctx context.Context, cycle model.Cycle) {
	if c.pub != nil {
		if err := c.pub.Publish(ctx, cycle); err != nil {
			log.Warn().Err(err).Uint64("seq", cycle.Seq).Msg("Failed to publish cycle")
		}
	}
	if c.status != nil {
		if err := c.status.Toggle(); err != nil {
			log.Warn().Err(err).Msg("Failed to toggle status signal")
		}
	}
}
