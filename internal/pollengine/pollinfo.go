package pollengine

// FieldCache is the part of the engine a FieldPollInfo needs. *Engine
// satisfies it.
type FieldCache interface {
	RegisterField(moniker, field string, access Access) (RegisterResult, Registration)
	QueryValue(moniker string, link *FieldLink, lastSerial uint32) (QueryResult, Reading)
}

// FieldPollInfo tracks one field for one consumer. It holds the link and
// serial, and re-registers after a reconnect or catalog reload.
//
// A FieldPollInfo is not safe for concurrent use; each consumer keeps its own.
type FieldPollInfo struct {
	moniker string
	field   string
	access  Access

	link    FieldLink
	serial  uint32
	reading Reading
	def     FieldDef
	make    string
	model   string

	lastRegister RegisterResult
}

// NewFieldPollInfo creates a tracker for moniker.field with the given access.
func NewFieldPollInfo(moniker, field string, access Access) *FieldPollInfo {
	return &FieldPollInfo{
		moniker:      moniker,
		field:        field,
		access:       access,
		lastRegister: RegisterNotFound,
	}
}

// ParseFieldPollInfo creates a tracker from a flattened "moniker.field" name.
func ParseFieldPollInfo(name string, access Access) (*FieldPollInfo, error) {
	moniker, field, err := ParseFieldName(name)
	if err != nil {
		return nil, err
	}
	return NewFieldPollInfo(moniker, field, access), nil
}

// Register resolves the field through c. On failure the link is cleared and
// the field shows as in error until a later Register succeeds.
func (p *FieldPollInfo) Register(c FieldCache) bool {
	res, reg := c.RegisterField(p.moniker, p.field, p.access)
	p.lastRegister = res
	if res != RegisterOK {
		p.link.Reset()
		p.serial = 0
		p.reading.State = FieldStateError
		return false
	}

	p.link = reg.Link
	p.def = reg.Def
	p.make = reg.Make
	p.model = reg.Model
	p.serial = 0
	return true
}

// Update queries c for a newer value, registering first when the link is
// unset or has gone stale. It reports whether the value or state changed,
// including a drop into the error state.
func (p *FieldPollInfo) Update(c FieldCache) bool {
	prev := p.reading.State

	if !p.link.IsValid() && !p.Register(c) {
		return prev != p.reading.State
	}

	res, reading := c.QueryValue(p.moniker, &p.link, p.serial)
	if res == QueryLinkStale || res == QueryNotFound {
		if !p.Register(c) {
			return prev != p.reading.State
		}
		res, reading = c.QueryValue(p.moniker, &p.link, p.serial)
	}

	switch res {
	case QueryNewValue:
		p.reading = reading
		p.serial = reading.Serial
		return true
	case QueryNoChange:
		return false
	default:
		p.link.Reset()
		p.serial = 0
		p.reading.State = FieldStateError
		return prev != p.reading.State
	}
}

// Moniker returns the driver moniker.
func (p *FieldPollInfo) Moniker() string { return p.moniker }

// Field returns the field name.
func (p *FieldPollInfo) Field() string { return p.field }

// Name returns the flattened "moniker.field" name.
func (p *FieldPollInfo) Name() string { return FieldName(p.moniker, p.field) }

// Access returns the requested access.
func (p *FieldPollInfo) Access() Access { return p.access }

// Link returns the current link, which may be invalid.
func (p *FieldPollInfo) Link() FieldLink { return p.link }

// Serial returns the serial of the last reading.
func (p *FieldPollInfo) Serial() uint32 { return p.serial }

// Value returns the last value received.
func (p *FieldPollInfo) Value() Value { return p.reading.Value }

// State returns the delivery state of the last reading.
func (p *FieldPollInfo) State() FieldState { return p.reading.State }

// Def returns the field definition from the last successful registration.
func (p *FieldPollInfo) Def() FieldDef { return p.def }

// Make returns the driver make from the last successful registration.
func (p *FieldPollInfo) Make() string { return p.make }

// Model returns the driver model from the last successful registration.
func (p *FieldPollInfo) Model() string { return p.model }

// LastRegister returns the result of the most recent Register call.
func (p *FieldPollInfo) LastRegister() RegisterResult { return p.lastRegister }

// Ready reports whether the last reading is a current value.
func (p *FieldPollInfo) Ready() bool {
	return p.link.IsValid() && p.reading.State == FieldStateReady
}
