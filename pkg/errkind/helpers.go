package errkind

import "errors"

// Is and As are thin convenience wrappers over the standard library's
// errors package, so call sites that already use Wrap and New from this
// package never reach for "errors" directly.

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's tree matching target's type.
func As(err error, target any) bool { return errors.As(err, target) }

// Classifiable is implemented by errors that know their own Kind without
// needing to be unwrapped through errors.As first. Useful for host
// adapters doing a quick triage before full normalization.
type Classifiable interface {
	error
	ErrorKind() Kind
}

// ErrorKind implements Classifiable for PluginError.
func (e *PluginError) ErrorKind() Kind { return e.Code }
