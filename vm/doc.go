// Package vm implements the Pyrite virtual machine.
//
// This package contains:
//   - The canonical runtime value representation with reference-counted
//     heap containers
//   - A NaN-boxed tagged value fast path for primitive numerics
//   - Register-based code units, call frames, and the dispatch loop
//   - Explicit block-stack exception handling (the VM is the unwind
//     mechanism for guest programs)
//   - The builtin/FFI call boundary and the native-loop compiler boundary
package vm
