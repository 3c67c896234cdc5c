package erasure

import (
	"fmt"
	"sort"
	"sync"
)

const cell1M = 1024 * 1024

// System policy IDs. They are persisted on files and must never change.
const (
	RS6x3PolicyID       uint8 = 1
	RS3x2PolicyID       uint8 = 2
	RSLegacy6x3PolicyID uint8 = 3
	XOR2x1PolicyID      uint8 = 4
	RS10x4PolicyID      uint8 = 5

	// firstUserPolicyID is the smallest ID handed to user-defined policies.
	firstUserPolicyID uint8 = 64
)

// DefaultPolicyName is the policy used when none is configured.
var DefaultPolicyName = PolicyName(CodecRS, 6, 3, cell1M)

func systemPolicies() []*Policy {
	return []*Policy{
		{ID: RS6x3PolicyID, Codec: CodecRS, DataUnits: 6, ParityUnits: 3, CellSize: cell1M},
		{ID: RS3x2PolicyID, Codec: CodecRS, DataUnits: 3, ParityUnits: 2, CellSize: cell1M},
		{ID: RSLegacy6x3PolicyID, Codec: CodecRSLegacy, DataUnits: 6, ParityUnits: 3, CellSize: cell1M},
		{ID: XOR2x1PolicyID, Codec: CodecXOR, DataUnits: 2, ParityUnits: 1, CellSize: cell1M},
		{ID: RS10x4PolicyID, Codec: CodecRS, DataUnits: 10, ParityUnits: 4, CellSize: cell1M},
	}
}

// Catalog is the registry of erasure coding policies known to the server.
//
// Thread Safety:
// Lookups take a read lock; Register takes the write lock. Registered
// policies are immutable so callers may keep the returned pointers.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[uint8]*Policy
	byName map[string]*Policy
	nextID uint8
}

// NewCatalog returns a catalog preloaded with the system policies.
func NewCatalog() *Catalog {
	c := &Catalog{
		byID:   make(map[uint8]*Policy),
		byName: make(map[string]*Policy),
		nextID: firstUserPolicyID,
	}
	for _, p := range systemPolicies() {
		p.Name = PolicyName(p.Codec, p.DataUnits, p.ParityUnits, p.CellSize)
		c.byID[p.ID] = p
		c.byName[p.Name] = p
	}
	return c
}

// Lookup returns the policy with the given ID.
func (c *Catalog) Lookup(id uint8) (*Policy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byID[id]
	if !ok {
		return nil, &UnknownPolicyError{ID: id}
	}
	return p, nil
}

// LookupByName returns the policy with the given name.
func (c *Catalog) LookupByName(name string) (*Policy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.byName[name]
	if !ok {
		return nil, &UnknownPolicyError{Name: name}
	}
	return p, nil
}

// Register adds a user-defined policy. If ID is zero an ID is assigned; if
// Name is empty the canonical name is derived from the parameters.
// The registered copy is returned.
func (c *Catalog) Register(p Policy) (*Policy, error) {
	if p.Name == "" {
		p.Name = PolicyName(p.Codec, p.DataUnits, p.ParityUnits, p.CellSize)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byName[p.Name]; exists {
		return nil, fmt.Errorf("erasure coding policy %s already registered", p.Name)
	}

	if p.ID == 0 {
		for {
			if _, taken := c.byID[c.nextID]; !taken {
				break
			}
			if c.nextID == 255 {
				return nil, fmt.Errorf("erasure coding policy %s: no free policy id", p.Name)
			}
			c.nextID++
		}
		p.ID = c.nextID
	} else if _, taken := c.byID[p.ID]; taken {
		return nil, fmt.Errorf("erasure coding policy id %d already registered", p.ID)
	}

	registered := &p
	c.byID[p.ID] = registered
	c.byName[p.Name] = registered
	return registered, nil
}

// Policies returns every registered policy ordered by ID.
func (c *Catalog) Policies() []*Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Policy, 0, len(c.byID))
	for _, p := range c.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
