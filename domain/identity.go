package domain

// Identity is the stable identifier of a verified caller.
type Identity string

func (id Identity) String() string { return string(id) }
