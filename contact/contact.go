// Package contact implements the contact manager (spec §4.8): the periodic
// task that activates and deactivates scheduled contacts against (DTN)
// wall-clock time and drives each active contact's transmit handoff to a
// CLA.
package contact

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dtncore/agent/cla"
	"github.com/dtncore/agent/routing"
	"github.com/dtncore/agent/internal/nlog"
)

// CheckingMaxPeriod bounds how long the manager sleeps between wakeups even
// with no contact due (spec §4.8 step 3, §5 "CONTACT_CHECKING_MAX_PERIOD").
const CheckingMaxPeriod = 30 * time.Second

// Signal is a control-queue message the router (or another task) sends to
// influence the next wakeup (spec §4.8 "Signals on its control queue").
type Signal struct {
	// Immediate, if true, asks the manager to re-check now instead of
	// waiting for its next scheduled wakeup.
	Immediate bool
	// HandToActive asks the manager to hand bundleID to the active contact
	// of the node whose EID is ContactEID, because the router just assigned
	// it to an already-active contact.
	HandToActive bool
	ContactEID   string
	BundleID     uint64
}

// TXHandoff is invoked once per bundle id queued on a contact, when that
// contact transitions to active (or when a Signal requests an immediate
// handoff). The caller (package proc/agent) supplies the bundle's bytes.
type TXHandoff func(ctx context.Context, c *routing.Contact, bundleID uint64) error

// Manager runs the periodic activation/deactivation loop.
type Manager struct {
	Table  *routing.Table
	Dialer cla.Dialer

	// clockOffset adjusts Now() for the SET_TIME management command (spec
	// §6 "reinitializes the local clock offset"); DTN time = wall time + offset.
	mu          sync.Mutex
	clockOffset int64

	active map[string]activeContact // keyed by contact's Node EID + From (unique per window)

	Signals chan Signal

	OnContactOver func(c *routing.Contact) // spec §4.8 "ROUTER_SIGNAL_CONTACT_OVER"
	Handoff       TXHandoff

	// MaxCheckPeriod overrides CheckingMaxPeriod for this manager (spec §6
	// contact manager tunable contact_checking_max_period); zero means use
	// the package default.
	MaxCheckPeriod time.Duration
}

type activeContact struct {
	contact *routing.Contact
	handle  cla.Handle
}

func New(t *routing.Table, d cla.Dialer) *Manager {
	return &Manager{
		Table:   t,
		Dialer:  d,
		active:  make(map[string]activeContact),
		Signals: make(chan Signal, 32),
	}
}

// Now returns the current DTN time: wall-clock seconds since the Unix epoch
// plus the clock offset applied by SetTime.
func (m *Manager) Now() uint64 {
	m.mu.Lock()
	off := m.clockOffset
	m.mu.Unlock()
	return uint64(time.Now().Unix() + off)
}

// SetTime implements the management-agent SET_TIME command (spec §6):
// reinitializes the local clock offset so Now() reports dtnTimestamp.
func (m *Manager) SetTime(dtnTimestamp uint64) {
	m.mu.Lock()
	m.clockOffset = int64(dtnTimestamp) - time.Now().Unix()
	m.mu.Unlock()
}

func contactKey(c *routing.Contact) string {
	return c.Node.EID + "#" + fmtUint(c.From)
}

func fmtUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Tick performs one activation/deactivation pass (spec §4.8 steps 1-2) and
// returns the duration to sleep before the next Tick (step 3).
func (m *Manager) Tick(ctx context.Context) time.Duration {
	now := m.Now()

	for key, ac := range m.active {
		if ac.contact.To <= now {
			ac.contact.Active = false
			_ = ac.handle.EndScheduledContact(ctx)
			delete(m.active, key)
			if m.OnContactOver != nil {
				m.OnContactOver(ac.contact)
			}
		}
	}

	contacts := m.Table.AllContacts()
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].From < contacts[j].From })

	var nextContactAt uint64
	haveNext := false
	for _, c := range contacts {
		key := contactKey(c)
		if _, isActive := m.active[key]; isActive {
			continue
		}
		if c.From <= now && now < c.To {
			if len(m.active) >= routing.MaxConcurrentContacts {
				continue
			}
			if err := m.activate(ctx, c); err != nil {
				nlog.Warningf("contact: activate %s failed: %v", c.Node.EID, err)
				continue
			}
			continue
		}
		if c.From > now && (!haveNext || c.From < nextContactAt) {
			nextContactAt = c.From
			haveNext = true
		}
	}

	maxPeriod := m.MaxCheckPeriod
	if maxPeriod <= 0 {
		maxPeriod = CheckingMaxPeriod
	}
	if !haveNext {
		return maxPeriod
	}
	wait := time.Duration(nextContactAt-now) * time.Second
	if wait > maxPeriod {
		wait = maxPeriod
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (m *Manager) activate(ctx context.Context, c *routing.Contact) error {
	handle, err := m.Dialer.Dial(ctx, c.Node.CLAAddr)
	if err != nil {
		return err
	}
	if err := handle.StartScheduledContact(ctx, c.Node.EID); err != nil {
		return err
	}
	c.Active = true
	m.active[contactKey(c)] = activeContact{contact: c, handle: handle}

	nlog.Infof("contact: activated %s (%d bundles queued)", c.Node.EID, len(c.Queue))
	if m.Handoff != nil {
		for _, bundleID := range c.Queue {
			if err := m.Handoff(ctx, c, bundleID); err != nil {
				nlog.Warningf("contact: handoff bundle %d on %s failed: %v", bundleID, c.Node.EID, err)
			}
		}
	}
	return nil
}

// Run drives Tick in a loop until ctx is cancelled, waking early on any
// Signal with Immediate set.
func (m *Manager) Run(ctx context.Context) error {
	for {
		wait := m.Tick(ctx)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case sig := <-m.Signals:
			timer.Stop()
			if sig.HandToActive {
				m.handToActive(ctx, sig)
			}
			// Immediate (or any other signal) just loops back to Tick now.
		case <-timer.C:
		}
	}
}

// HandleFor returns the CLA handle for nodeEID's currently active contact,
// so a late-arriving bundle (one routed after the contact already went
// active) can still be handed off directly (spec §4.8 "hand to active").
func (m *Manager) HandleFor(nodeEID string) (cla.Handle, error) {
	for _, ac := range m.active {
		if ac.contact.Node.EID == nodeEID {
			return ac.handle, nil
		}
	}
	return nil, errNoActiveContact{nodeEID}
}

type errNoActiveContact struct{ eid string }

func (e errNoActiveContact) Error() string {
	return "contact: no active contact with " + e.eid
}

func (m *Manager) handToActive(ctx context.Context, sig Signal) {
	for _, ac := range m.active {
		if ac.contact.Node.EID != sig.ContactEID {
			continue
		}
		if m.Handoff != nil {
			if err := m.Handoff(ctx, ac.contact, sig.BundleID); err != nil {
				nlog.Warningf("contact: late handoff bundle %d on %s failed: %v", sig.BundleID, sig.ContactEID, err)
			}
		}
		return
	}
}
