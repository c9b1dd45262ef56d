// Package locspec resolves a breakpoint spec into a location of the
// target.
//
// Breakpoint spec examples:
//
//	spec ::= <package path>.<type>.<method>
//	* main.Server.handle
//	* github.com/org/app/internal/store.(*DB).Query is written github.com/org/app/internal/store.DB.Query
//	* methods promoted from embedded fields are found on the outer type
//
// The type must be spelled exactly as the target names it, no partial
// package matching is performed.
package locspec
