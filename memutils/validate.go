package memutils

// Validatable is used by the DebugValidate method to allow it to act upon
// all types with a Validate method, such as block metadata and allocators
type Validatable interface {
	Validate() error
}
