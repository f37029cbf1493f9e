package memutils

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method, such as pools and the metadata wrapped around them
type Validatable interface {
	Validate() error
}
