package chunk

import "errors"

var (
	// ErrUnsupportedMutation is returned when SetSize or SetLink is invoked
	// on a semantic that cannot carry that state.
	ErrUnsupportedMutation = errors.New("unsupported mutation")

	// ErrUnresolvedTarget is returned when a displacement is needed before
	// the link target or the instruction itself has an address.
	ErrUnresolvedTarget = errors.New("unresolved target")

	// ErrInvalidSizeClass is returned by SetSize for a size that no
	// encoding of the branch kind produces.
	ErrInvalidSizeClass = errors.New("invalid size class")

	// ErrDisplacementOverflow is returned when a displacement does not fit
	// the widest encoding available.
	ErrDisplacementOverflow = errors.New("displacement overflow")
)
