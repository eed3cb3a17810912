package bedlet

import "sync"

// Fake is an in-memory bed. Measured temperatures follow the targets.
type Fake struct {
	mu       sync.Mutex
	targets  Block
	measured Block
	faults   Block
	currents Block
	closed   bool
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) WriteTargets(targets Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = targets
	f.measured = targets
	for i, t := range targets {
		// 1 mA per 0.1 °C of target keeps the numbers readable.
		f.currents[i] = t
	}
	return nil
}

func (f *Fake) ReadTargets() (Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets, nil
}

func (f *Fake) ReadMeasured() (Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.measured, nil
}

// SetFault injects a fault on bedlet i.
func (f *Fake) SetFault(i int, fault Fault) {
	f.mu.Lock()
	f.faults[i] = uint16(fault)
	f.mu.Unlock()
}

func (f *Fake) ReadFaults() ([BedletCount]Fault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Faults(f.faults), nil
}

func (f *Fake) ReadCurrents() (Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currents, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
