package korad

import (
	"fmt"
	"time"
)

// Phase is the charge state machine state. Transitions are monotonic
// (CC → CV → Done) except for Fault, which is absorbing and reachable from
// any phase.
type Phase int

const (
	PhaseCC Phase = iota // bulk constant-current charge
	PhaseCV              // constant-voltage, current tapering
	PhaseDone            // terminal, output disabled
	PhaseFault           // terminal, output disabled
)

func (p Phase) String() string {
	switch p {
	case PhaseCC:
		return "CC"
	case PhaseCV:
		return "CV"
	case PhaseDone:
		return "Done"
	case PhaseFault:
		return "Fault"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether the phase ends the charge.
func (p Phase) Terminal() bool { return p == PhaseDone || p == PhaseFault }

// Supply is the capability set the charge controller needs from a session.
type Supply interface {
	SetVoltage(volts float64) error
	SetCurrent(amps float64) error
	EnableOutput() error
	DisableOutput() error
}

// ChargePlan describes one battery charge. Zero fields other than CapacityAh
// pick the defaults, which suit a single LiPo cell.
type ChargePlan struct {
	CapacityAh       float64       // rated battery capacity, required
	TargetVoltage    float64       // CC/CV crossover voltage, default 4.175
	ChargeRate       float64       // bulk current in C, default 0.5
	CutoffRatio      float64       // taper cutoff in C, default 0.02
	Debounce         int           // consecutive low samples before Done, default 3
	VoltageTolerance float64       // crossover detection slack, default 0.01 V
	MaxDuration      time.Duration // overall time budget, default 4h; <0 disables
}

const (
	defaultTargetVoltage    = 4.175
	defaultChargeRate       = 0.5
	defaultCutoffRatio      = 0.02
	defaultDebounce         = 3
	defaultVoltageTolerance = 0.01
	defaultMaxDuration      = 4 * time.Hour
)

// withDefaults fills zero fields.
func (p ChargePlan) withDefaults() ChargePlan {
	if p.TargetVoltage == 0 {
		p.TargetVoltage = defaultTargetVoltage
	}
	if p.ChargeRate == 0 {
		p.ChargeRate = defaultChargeRate
	}
	if p.CutoffRatio == 0 {
		p.CutoffRatio = defaultCutoffRatio
	}
	if p.Debounce == 0 {
		p.Debounce = defaultDebounce
	}
	if p.VoltageTolerance == 0 {
		p.VoltageTolerance = defaultVoltageTolerance
	}
	if p.MaxDuration == 0 {
		p.MaxDuration = defaultMaxDuration
	}
	return p
}

// ChargeCurrent is the bulk-phase current limit: capacity times charge rate.
func (p ChargePlan) ChargeCurrent() float64 {
	return p.CapacityAh * p.ChargeRate
}

// CutoffCurrent is the taper current below which the charge is complete.
func (p ChargePlan) CutoffCurrent() float64 {
	return p.CapacityAh * p.CutoffRatio
}

// ChargeController runs the CC→CV→Done/Fault state machine over a stream of
// readings. The supply's own analog control loop performs the electrical
// CC/CV crossover; the controller only detects it and watches for taper.
type ChargeController struct {
	supply Supply
	plan   ChargePlan
	limits DeviceLimits

	phase       Phase
	lowSamples  int
	startedAt   time.Time
	lastReading Reading

	now func() time.Time
}

// NewChargeController builds a controller. Readings exceeding limits are
// treated as the hardware reporting an unsafe condition and fault the charge.
func NewChargeController(supply Supply, plan ChargePlan, limits DeviceLimits) *ChargeController {
	return &ChargeController{
		supply: supply,
		plan:   plan.withDefaults(),
		limits: limits,
		phase:  PhaseCC,
		now:    time.Now,
	}
}

// Plan returns the plan with defaults applied.
func (c *ChargeController) Plan() ChargePlan { return c.plan }

// Phase returns the current phase.
func (c *ChargeController) Phase() Phase { return c.phase }

// LastReading returns the most recently consumed reading.
func (c *ChargeController) LastReading() Reading { return c.lastReading }

// Elapsed returns how long the charge has been running.
func (c *ChargeController) Elapsed() time.Duration { return c.now().Sub(c.startedAt) }

// Start writes the setpoints once and enables the output. The plan must fit
// the device limits or the supply will reject the setpoints before any I/O.
func (c *ChargeController) Start() error {
	if c.plan.CapacityAh <= 0 {
		return fmt.Errorf("charge plan: capacity must be positive, got %g Ah", c.plan.CapacityAh)
	}
	if err := c.supply.SetVoltage(c.plan.TargetVoltage); err != nil {
		return err
	}
	if err := c.supply.SetCurrent(c.plan.ChargeCurrent()); err != nil {
		return err
	}
	if err := c.supply.EnableOutput(); err != nil {
		return err
	}
	c.phase = PhaseCC
	c.lowSamples = 0
	c.startedAt = c.now()
	return nil
}

// Update consumes one reading and applies the transition rules. It returns
// the resulting phase; the error is a *ChargeFaultError when this reading
// drove the controller into Fault. Terminal phases ignore further readings.
func (c *ChargeController) Update(r Reading) (Phase, error) {
	if c.phase.Terminal() {
		return c.phase, nil
	}
	c.lastReading = r

	if r.Voltage > c.limits.MaxVoltage || r.Current > c.limits.MaxCurrent {
		return c.phase, c.Fail(fmt.Errorf(
			"reading outside device limits: %.2f V / %.2f A (max %.2f V / %.2f A)",
			r.Voltage, r.Current, c.limits.MaxVoltage, c.limits.MaxCurrent))
	}

	// The time budget is a completion condition, not a fault.
	if c.plan.MaxDuration > 0 && c.now().Sub(c.startedAt) >= c.plan.MaxDuration {
		return c.finish()
	}

	switch c.phase {
	case PhaseCC:
		if r.Voltage >= c.plan.TargetVoltage-c.plan.VoltageTolerance {
			c.phase = PhaseCV
		}
	case PhaseCV:
		if r.Current < c.plan.CutoffCurrent() {
			c.lowSamples++
			if c.lowSamples >= c.plan.Debounce {
				return c.finish()
			}
		} else {
			// One above-cutoff sample resets the debounce window.
			c.lowSamples = 0
		}
	}
	return c.phase, nil
}

// finish enters Done and disables the output. A failed disable escalates to
// Fault instead, without a second attempt.
func (c *ChargeController) finish() (Phase, error) {
	if err := c.supply.DisableOutput(); err != nil {
		c.phase = PhaseFault
		return c.phase, &ChargeFaultError{Cause: fmt.Errorf("disable output on completion: %w", err)}
	}
	c.phase = PhaseDone
	return c.phase, nil
}

// Fail forces the Fault state from outside, typically when the sampler's
// session call returned an error. The output disable is attempted exactly
// once; the controller must not loop against a misbehaving device.
func (c *ChargeController) Fail(cause error) error {
	if c.phase.Terminal() {
		return nil
	}
	c.phase = PhaseFault
	fault := &ChargeFaultError{Cause: cause}
	if err := c.supply.DisableOutput(); err != nil {
		fault.DisableErr = err
	}
	return fault
}
