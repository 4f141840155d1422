package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	id "chainrelay/pkg/domain"
)

// Op names a Memory ledger operation for failure injection.
type Op string

const (
	OpRegister Op = "register"
	OpVerify   Op = "verify"
	OpInfo     Op = "info"
	OpReceipt  Op = "receipt"
	OpHealth   Op = "health"
)

// SimulatedRegistrar is the registrar address reported by Memory.
const SimulatedRegistrar = "0x000000000000000000000000000000000000c0de"

type memoryTx struct {
	key      string
	polls    int
	mined    bool
	reverted bool
	block    uint64
}

// Memory is an in-process ledger with contract semantics: a registration
// takes effect when its transaction is mined, and a second registration of
// the same digest reverts. Used for development and tests.
type Memory struct {
	mu           sync.Mutex
	records      map[string]HashInfo
	txs          map[string]*memoryTx
	failures     map[Op][]error
	confirmAfter int
	block        uint64
	registers    int
	now          func() time.Time
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithConfirmAfter sets how many receipt polls report pending before a
// transaction is mined.
func WithConfirmAfter(polls int) MemoryOption {
	return func(m *Memory) { m.confirmAfter = polls }
}

// WithClock overrides the timestamp source for mined records.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty simulated ledger.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		records:  make(map[string]HashInfo),
		txs:      make(map[string]*memoryTx),
		failures: make(map[Op][]error),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext queues errors returned by the next calls of op, in order.
func (m *Memory) FailNext(op Op, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

// RegisterCalls reports how many RegisterHash calls reached the contract.
func (m *Memory) RegisterCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers
}

// Preregister records hash as already on the ledger.
func (m *Memory) Preregister(hash id.MessageHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[hash.Key()] = HashInfo{Registered: true, Timestamp: m.now(), Registrar: SimulatedRegistrar}
}

func (m *Memory) popFailure(op Op) error {
	queue := m.failures[op]
	if len(queue) == 0 {
		return nil
	}
	m.failures[op] = queue[1:]
	return queue[0]
}

func (m *Memory) RegisterHash(_ context.Context, hash id.MessageHash) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure(OpRegister); err != nil {
		return "", err
	}
	key := hash.Key()
	if m.records[key].Registered {
		return "", &Error{Op: string(OpRegister), Class: ErrAlreadyRegistered}
	}
	m.registers++
	txRef := "0x" + uuid.NewString()
	m.txs[txRef] = &memoryTx{key: key}
	return txRef, nil
}

func (m *Memory) VerifyHash(_ context.Context, hash id.MessageHash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure(OpVerify); err != nil {
		return false, err
	}
	return m.records[hash.Key()].Registered, nil
}

func (m *Memory) GetHashInfo(_ context.Context, hash id.MessageHash) (*HashInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure(OpInfo); err != nil {
		return nil, err
	}
	info := m.records[hash.Key()]
	return &info, nil
}

func (m *Memory) TransactionReceipt(_ context.Context, txRef string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure(OpReceipt); err != nil {
		return nil, err
	}
	tx, ok := m.txs[txRef]
	if !ok {
		return nil, Permanent(string(OpReceipt), fmt.Errorf("unknown transaction %s", txRef))
	}
	if !tx.mined {
		if tx.polls < m.confirmAfter {
			tx.polls++
			return nil, ErrReceiptPending
		}
		m.mine(tx)
	}
	status := ReceiptSuccess
	if tx.reverted {
		status = ReceiptReverted
	}
	return &Receipt{TxRef: txRef, Status: status, BlockNumber: tx.block}, nil
}

func (m *Memory) mine(tx *memoryTx) {
	m.block++
	tx.mined = true
	tx.block = m.block
	if m.records[tx.key].Registered {
		tx.reverted = true
		return
	}
	m.records[tx.key] = HashInfo{Registered: true, Timestamp: m.now(), Registrar: SimulatedRegistrar}
}

func (m *Memory) Health(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popFailure(OpHealth)
}
