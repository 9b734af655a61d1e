package bvh

// Default traversal stack capacity. Binned SAH trees stay well below this
// depth for any practical input.
const DefaultStackCapacity = 64

// A fixed-capacity stack of node indices used by the traversal loops. A
// stack can be reused across queries but not shared between goroutines.
type Stack struct {
	items []uint32
	top   int
}

// Allocate a new stack. A non-positive capacity selects DefaultStackCapacity.
func NewStack(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultStackCapacity
	}
	return &Stack{items: make([]uint32, capacity)}
}

// Get the stack capacity.
func (s *Stack) Cap() int {
	return len(s.items)
}

func (s *Stack) reset() {
	s.top = 0
}

func (s *Stack) push(nodeIndex uint32) error {
	if s.top == len(s.items) {
		return ErrStackOverflow
	}
	s.items[s.top] = nodeIndex
	s.top++
	return nil
}

func (s *Stack) pop() (uint32, bool) {
	if s.top == 0 {
		return 0, false
	}
	s.top--
	return s.items[s.top], true
}
