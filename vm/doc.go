// Package vm implements the dream runtime.
//
// This package contains:
//   - Tagged values and the generational object table
//   - The type tree loaded from a program image, with copy-down inheritance
//   - Procs (bytecode, native and async native) and their resumable states
//   - Threads: resumable call stacks with stack splitting on sleep
//   - The bytecode interpreter and the tick scheduler
//
// Execution is cooperative and single threaded. A proc that sleeps either
// pauses its whole thread or, when a caller on the stack declared
// WaitFor=false, splits off onto a new thread so that caller continues.
package vm
