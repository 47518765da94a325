package filter

import (
	"github.com/ethereum/go-ethereum/common"
)

// Specification is a pure predicate over chain items.
// Implementations must not perform I/O.
type Specification interface {
	IsSatisfiedBy(item Item) bool
}

// Func adapts a plain function to a Specification. Func specs carry no
// bounds, so they widen the fetch query to every item.
type Func func(item Item) bool

func (f Func) IsSatisfiedBy(item Item) bool { return f(item) }

type anySpec struct{}

func (anySpec) IsSatisfiedBy(Item) bool { return true }

type noneSpec struct{}

func (noneSpec) IsSatisfiedBy(Item) bool { return false }

// Any matches every item.
func Any() Specification { return anySpec{} }

// None matches no item.
func None() Specification { return noneSpec{} }

// AddressSpec matches items whose contract address is in the set.
type AddressSpec struct {
	addresses map[common.Address]struct{}
}

// Address returns a spec matching the given contract addresses.
func Address(addrs ...common.Address) *AddressSpec {
	return &AddressSpec{addresses: addressSet(addrs)}
}

func (s *AddressSpec) IsSatisfiedBy(item Item) bool {
	if item.Kind == ItemTransaction && item.To == nil {
		return false
	}
	_, ok := s.addresses[item.Address]
	return ok
}

// TopicSpec matches logs whose topic at Index is in the set.
type TopicSpec struct {
	index  int
	topics map[common.Hash]struct{}
}

// Topic returns a spec matching logs by event signature (topic0).
func Topic(topics ...common.Hash) *TopicSpec {
	return TopicAt(0, topics...)
}

// TopicAt returns a spec matching logs by the topic at position index.
func TopicAt(index int, topics ...common.Hash) *TopicSpec {
	return &TopicSpec{index: index, topics: hashSet(topics)}
}

func (s *TopicSpec) IsSatisfiedBy(item Item) bool {
	if item.Kind != ItemLog || s.index < 0 || len(item.Topics) <= s.index {
		return false
	}
	_, ok := s.topics[item.Topics[s.index]]
	return ok
}

// SelectorSpec matches transactions whose call data starts with one of the selectors.
type SelectorSpec struct {
	selectors map[Selector]struct{}
}

// MethodSelector returns a spec matching transactions by method selector.
func MethodSelector(selectors ...Selector) *SelectorSpec {
	set := make(map[Selector]struct{}, len(selectors))
	for _, s := range selectors {
		set[s] = struct{}{}
	}
	return &SelectorSpec{selectors: set}
}

func (s *SelectorSpec) IsSatisfiedBy(item Item) bool {
	if item.Kind != ItemTransaction || !item.HasSelector {
		return false
	}
	_, ok := s.selectors[item.Selector]
	return ok
}

// CounterpartySpec matches transactions sent from or to one of the addresses.
type CounterpartySpec struct {
	addresses map[common.Address]struct{}
}

// Counterparty returns a spec matching transactions by sender or recipient.
func Counterparty(addrs ...common.Address) *CounterpartySpec {
	return &CounterpartySpec{addresses: addressSet(addrs)}
}

func (s *CounterpartySpec) IsSatisfiedBy(item Item) bool {
	if item.Kind != ItemTransaction {
		return false
	}
	if _, ok := s.addresses[item.From]; ok {
		return true
	}
	if item.To != nil {
		if _, ok := s.addresses[*item.To]; ok {
			return true
		}
	}
	return false
}

// Contract matches logs emitted by addr whose topic0 is one of topics.
// With no topics it matches every log of the contract.
func Contract(addr common.Address, topics ...common.Hash) Specification {
	if len(topics) == 0 {
		return And(Address(addr), LogsOnly())
	}
	return And(Address(addr), Topic(topics...))
}

type logsOnlySpec struct{}

func (logsOnlySpec) IsSatisfiedBy(item Item) bool { return item.Kind == ItemLog }

// LogsOnly matches every log and no transaction.
func LogsOnly() Specification { return logsOnlySpec{} }

type txsOnlySpec struct{}

func (txsOnlySpec) IsSatisfiedBy(item Item) bool { return item.Kind == ItemTransaction }

// TransactionsOnly matches every transaction and no log.
func TransactionsOnly() Specification { return txsOnlySpec{} }

// AndSpec is satisfied when every member is.
type AndSpec struct {
	specs []Specification
}

// And combines specs with logical AND. An empty And matches everything.
func And(specs ...Specification) *AndSpec {
	return &AndSpec{specs: compact(specs)}
}

func (s *AndSpec) IsSatisfiedBy(item Item) bool {
	for _, spec := range s.specs {
		if !spec.IsSatisfiedBy(item) {
			return false
		}
	}
	return true
}

// OrSpec is satisfied when any member is.
type OrSpec struct {
	specs []Specification
}

// Or combines specs with logical OR. An empty Or matches nothing.
func Or(specs ...Specification) *OrSpec {
	return &OrSpec{specs: compact(specs)}
}

func (s *OrSpec) IsSatisfiedBy(item Item) bool {
	for _, spec := range s.specs {
		if spec.IsSatisfiedBy(item) {
			return true
		}
	}
	return false
}

// Specs returns the members of the OR.
func (s *OrSpec) Specs() []Specification {
	return s.specs
}

// NotSpec negates its member.
type NotSpec struct {
	spec Specification
}

// Not negates spec.
func Not(spec Specification) *NotSpec {
	return &NotSpec{spec: spec}
}

func (s *NotSpec) IsSatisfiedBy(item Item) bool {
	return !s.spec.IsSatisfiedBy(item)
}

// OrSpecification combines the filters of several jobs into the predicate
// used to fetch candidates. Nested ORs are flattened and nil members dropped.
func OrSpecification(specs ...Specification) *OrSpec {
	flat := make([]Specification, 0, len(specs))
	for _, spec := range specs {
		switch s := spec.(type) {
		case nil:
			continue
		case noneSpec:
			continue
		case *OrSpec:
			flat = append(flat, OrSpecification(s.specs...).specs...)
		default:
			flat = append(flat, s)
		}
	}
	return &OrSpec{specs: flat}
}

func compact(specs []Specification) []Specification {
	out := make([]Specification, 0, len(specs))
	for _, s := range specs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func addressSet(addrs []common.Address) map[common.Address]struct{} {
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

func hashSet(hashes []common.Hash) map[common.Hash]struct{} {
	set := make(map[common.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set
}
